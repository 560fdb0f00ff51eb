// Command relay is a development stand-in for the event relay: an
// in-memory append-only log with a long-poll feed. It forwards opaque
// envelopes without ever seeing plaintext or keys.
package main
