// Package cache provides the key/value backend used for login challenges and
// other short-lived server state.
package cache

import (
	"context"
	"time"
)

// Backend defines the interface for cache implementations
type Backend interface {
	// Get retrieves a value from the cache
	// Returns (value, found, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetDelete atomically retrieves a value and removes it. At most one
	// caller racing on the same key observes found == true; this is the
	// primitive single-use challenge redemption is built on.
	GetDelete(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error
}
