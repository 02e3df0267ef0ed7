package secrets

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned by a Store when nothing lives at mount/path.
var ErrSecretNotFound = errors.New("secret not found")

// Store is the secret-store boundary: one read returning a flat key/value map.
type Store interface {
	ReadSecret(ctx context.Context, mount, path string) (map[string]interface{}, error)
}

// StoreFactory builds the Store on first use.
type StoreFactory func() (Store, error)
