// Package relay implements the event stream collaborator over HTTP: Send
// posts envelopes to the relay, Subscribe long-polls a cursor feed and
// resubscribes with exponential backoff after transport errors. Reconnect
// semantics live here so the key-agreement core never sees them.
package relay
