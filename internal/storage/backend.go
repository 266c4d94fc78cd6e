package storage

import "context"

// Backend defines the interface for durable key-value backends
type Backend interface {
	// Name returns the driver identifier
	Name() string

	// Get retrieves a raw value; ok is false on a miss
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes a raw value
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes keys; deleting an absent key is a no-op
	Remove(ctx context.Context, keys ...string) error

	// GetAll returns every stored key/value pair
	GetAll(ctx context.Context) (map[string][]byte, error)

	// Clear removes all stored pairs
	Clear(ctx context.Context) error

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the backend
	Close() error
}
