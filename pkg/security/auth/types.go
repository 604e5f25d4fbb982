package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Identity is a verified acting subject.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

// AuthError is an authentication (401) or authorization (403) failure. The
// Status and Message are returned to the caller unchanged.
type AuthError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed (%d): %s", e.Status, e.Message)
}

// Unauthenticated returns a 401 AuthError.
func Unauthenticated(msg string) *AuthError {
	return &AuthError{Status: http.StatusUnauthorized, Message: msg}
}

// Forbidden returns a 403 AuthError.
func Forbidden(msg string) *AuthError {
	return &AuthError{Status: http.StatusForbidden, Message: msg}
}

// Authenticator resolves the identity behind a request. A nil identity with a
// nil error means the request is anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (*Identity, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*Identity, error) {
	return f(r)
}

// APIKeyInfo represents an API key with the identity it authenticates.
type APIKeyInfo struct {
	Key       string    `yaml:"key"`
	SubjectID string    `yaml:"subject_id"`
	Email     string    `yaml:"email"`
	Role      string    `yaml:"role"`
	Enabled   bool      `yaml:"enabled"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Identity returns the identity the key authenticates.
func (k *APIKeyInfo) Identity() *Identity {
	return &Identity{SubjectID: k.SubjectID, Email: k.Email, Role: k.Role}
}

type contextKey string

const identityKey contextKey = "auth_identity"

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by the guard, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
