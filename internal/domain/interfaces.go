package domain

import "context"

// EventStream is the bidirectional relay connection. Send is a
// fire-and-forget publish onto the outbound side; Subscribe yields the
// inbound side as an unbounded feed. Reconnect and backoff live behind this
// interface, not in the subsystem.
type EventStream interface {
	Send(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

// PreferenceStore durably persists small serialized records by name. Load
// reports (false, nil) when no record exists.
type PreferenceStore interface {
	Store(key string, v any) error
	Load(key string, v any) (bool, error)
	Delete(key string) error
}
