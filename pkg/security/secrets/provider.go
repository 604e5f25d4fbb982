package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a provider that does not hold the secret. The
// resolver moves on to the next provider only for this error.
var ErrNotFound = errors.New("secret not found")

// Provider looks up secrets by name in one backend.
type Provider interface {
	// Name identifies the backend in logs ("env", "file").
	Name() string

	// Lookup returns the secret value, or an error wrapping ErrNotFound.
	Lookup(ctx context.Context, name string) (string, error)
}
