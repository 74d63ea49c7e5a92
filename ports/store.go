package ports

import "context"

// Store is a durable key-value store scoped to one client installation
type Store interface {
	// Get returns the value for key, or core.ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set writes a single key
	Set(ctx context.Context, key, value string) error

	// SetAll writes every pair atomically: either all keys are written or none
	SetAll(ctx context.Context, values map[string]string) error

	// Delete removes keys; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error
}
