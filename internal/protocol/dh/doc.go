// Package dh implements the three-step Diffie-Hellman handshake state
// machine behind every pairwise key.
//
// Step 1 (Initiate) publishes a fresh ephemeral public key, parameters
// included, and parks the private half as the channel's pending agreement.
// Step 2 (HandleRequest) runs on the responder: it mirrors the initiator's
// group parameters, derives the shared key immediately and answers in one
// round trip. Step 3 (HandleResponse) finalizes on the initiator with the
// parked private key.
//
// Two event flavors exist: the dual flavor feeds the versioned 1:1
// keyspace, the group flavor feeds the per-member pairwise keyspace used to
// wrap group secrets. A response with no pending agreement is stale and
// silently dropped.
package dh
