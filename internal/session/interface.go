package session

import "context"

// Store is the single slot holding the signed-in individual for a session
// group. Every instance sharing a backend and bus sees the same slot.
type Store interface {
	// Write replaces the slot. Last writer wins.
	Write(ctx context.Context, rec *Record) error

	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error

	// Read returns the current record, or nil if nobody is signed in.
	Read(ctx context.Context) (*Record, error)

	// Watch calls fn for every write or clear made through a different
	// Store instance. The returned func stops the watch.
	Watch(ctx context.Context, fn func(Change)) (func(), error)

	// ID identifies this instance in Change.Origin.
	ID() string

	Close() error
}
