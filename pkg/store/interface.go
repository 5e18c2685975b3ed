package store

import "context"

// Store defines the persistence interface for the durable presence list.
// Implementations include SQLite (default), BoltDB, PostgreSQL, a JSON file
// compatible with the legacy userrequest.json format, and an in-memory store
// for tests.
//
// A Store persists an ordered list of usernames as a whole. Callers serialize
// access; see Presence.
type Store interface {
	// Load returns the persisted usernames in insertion order. An empty
	// store yields an empty, non-nil slice.
	Load(ctx context.Context) ([]string, error)

	// Save replaces the persisted list with names, preserving order.
	Save(ctx context.Context, names []string) error

	// Close releases the underlying storage.
	Close() error
}
