// Package keystore is the durable table of established symmetric keys.
//
// Two keyspaces are kept strictly apart: dual keys live under
// (channel, version) with a per-channel monotonic version counter, and
// group-member pairwise keys live under (channel, userID). Confusing the
// two was a latent bug surface in earlier designs, hence the split maps.
//
// Dual keys and version counters persist eagerly on every mutation through
// the preference store; member keys are session-scoped and rebuilt by
// re-running the pairwise handshake after a restart.
package keystore
