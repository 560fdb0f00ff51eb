// Package group coordinates distribution of a group chat's shared secret.
//
// There is no group-wide broadcast channel, so trust is bootstrapped
// transitively. The creator ("admin") generates the secret, waits a bounded
// time for the initially-online members to complete pairwise handshakes,
// then fans the secret out encrypted under each member's pairwise key. A
// member who missed the fan-out requests the secret from one candidate
// member at a time, each engagement bounded by a fixed window.
//
// All timers and requester loops are owned by the Coordinator and die with
// Shutdown; none outlives the session.
package group
