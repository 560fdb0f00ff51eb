// Package e2e is the top-level façade over the key-agreement subsystem.
//
// The Controller restores persisted keys, subscribes to the relay event
// stream, demultiplexes handshake and key-sharing events to the DH engine
// and the group coordinator, and exposes the read side (RemoteKey,
// KeyVersion, Available) to message-encoding callers. Nothing here blocks:
// flows start immediately and make progress as events arrive.
package e2e
