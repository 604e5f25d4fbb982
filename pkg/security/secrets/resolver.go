package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

// referencePattern matches ${secret:name}.
var referencePattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver looks secrets up through an ordered provider chain.
type Resolver struct {
	providers []Provider
	cache     *cache
	logger    *slog.Logger
}

// NewResolver creates a resolver trying providers in order.
func NewResolver(providers []Provider, cfg CacheConfig) *Resolver {
	return &Resolver{
		providers: providers,
		cache:     newCache(cfg),
		logger:    slog.Default().With("component", "secrets.resolver"),
	}
}

// Resolve returns the value of the first provider holding name. A provider
// error other than ErrNotFound stops the chain, so a misconfigured file is
// reported instead of silently shadowed by a later provider.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if v, ok := r.cache.get(name); ok {
		return v, nil
	}

	for _, p := range r.providers {
		v, err := p.Lookup(ctx, name)
		if err == nil {
			r.cache.set(name, v)
			r.logger.Debug("secret resolved", "name", shortName(name), "provider", p.Name())
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}

	return "", fmt.Errorf("%w: %q in any provider", ErrNotFound, name)
}

// ResolveReferences replaces every ${secret:name} in input. Input without
// references is returned unchanged. On failure the first error is returned
// and the input is left as it was.
func (r *Resolver) ResolveReferences(ctx context.Context, input string) (string, error) {
	var firstErr error
	out := referencePattern.ReplaceAllStringFunc(input, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		name := referencePattern.FindStringSubmatch(ref)[1]
		v, err := r.Resolve(ctx, name)
		if err != nil {
			firstErr = fmt.Errorf("failed to resolve secret %q: %w", name, err)
			return ref
		}
		return v
	})
	if firstErr != nil {
		return input, firstErr
	}
	return out, nil
}

// Invalidate clears the resolver cache.
func (r *Resolver) Invalidate() {
	r.cache.clear()
}

// Close closes the providers that hold resources.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// shortName keeps the ends of a secret name for logs.
func shortName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
