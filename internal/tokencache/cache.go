// Package tokencache defines the durable keyed storage that holds the session
// token. Implementations include Badger (local durable default), Redis
// (shared between concurrent desk processes), and in-memory (for testing).
package tokencache

import "context"

// DefaultKey is the well-known key the session token is stored under.
const DefaultKey = "token"

// Cache is a keyed get/set/remove store for short strings.
// Concurrent writers are last-writer-wins; no locking is offered.
type Cache interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
