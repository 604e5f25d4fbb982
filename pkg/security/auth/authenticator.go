package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeySource defines where to extract API keys from.
type APIKeySource struct {
	Type   string `yaml:"type"`   // header, query
	Name   string `yaml:"name"`   // header name or query param
	Scheme string `yaml:"scheme"` // "Bearer", etc. (optional)
}

// DefaultSources checks the Bearer token, then X-API-Key.
func DefaultSources() []APIKeySource {
	return []APIKeySource{
		{Type: "header", Name: "Authorization", Scheme: "Bearer"},
		{Type: "header", Name: "X-API-Key"},
	}
}

// APIKeyAuthenticator authenticates requests by API key.
type APIKeyAuthenticator struct {
	validator      *APIKeyValidator
	sources        []APIKeySource
	allowAnonymous bool
	logger         *slog.Logger
}

// NewAPIKeyAuthenticator creates an authenticator. With allowAnonymous set, a
// request carrying no key is let through as anonymous; otherwise it is
// rejected with 401.
func NewAPIKeyAuthenticator(validator *APIKeyValidator, sources []APIKeySource, allowAnonymous bool) *APIKeyAuthenticator {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &APIKeyAuthenticator{
		validator:      validator,
		sources:        sources,
		allowAnonymous: allowAnonymous,
		logger:         slog.Default().With("component", "auth.apikey"),
	}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	key, found := a.extractAPIKey(r)
	if !found {
		if a.allowAnonymous {
			return nil, nil
		}
		a.logger.Debug("missing API key", "path", r.URL.Path)
		return nil, Unauthenticated("Missing or invalid API key")
	}

	info, err := a.validator.Validate(key)
	switch {
	case errors.Is(err, ErrKeyDisabled):
		a.logger.Warn("disabled API key used", "subject", info.SubjectID, "path", r.URL.Path)
		return nil, Forbidden("API key disabled")
	case err != nil:
		a.logger.Debug("invalid API key", "path", r.URL.Path)
		return nil, Unauthenticated("Invalid API key")
	}

	return info.Identity(), nil
}

// extractAPIKey returns the first key found in the configured sources.
func (a *APIKeyAuthenticator) extractAPIKey(r *http.Request) (string, bool) {
	for _, source := range a.sources {
		switch source.Type {
		case "header":
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value, true
			}
			prefix := source.Scheme + " "
			if strings.HasPrefix(value, prefix) {
				return strings.TrimPrefix(value, prefix), true
			}
			// Wrong scheme: a key was presented but is unusable.
			return "", true

		case "query":
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value, true
			}
		}
	}
	return "", false
}
