package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix prefixes secret environment variables.
const DefaultEnvPrefix = "THROTTLEGUARD_SECRET_"

// EnvProvider reads secrets from environment variables.
//
// The secret "redis-password" is read from THROTTLEGUARD_SECRET_REDIS_PASSWORD
// with the default prefix.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider. An empty prefix uses
// DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

// Name implements Provider.
func (p *EnvProvider) Name() string { return "env" }

// Lookup implements Provider. An empty variable counts as missing.
func (p *EnvProvider) Lookup(_ context.Context, name string) (string, error) {
	v := os.Getenv(p.variable(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s in environment", ErrNotFound, name)
	}
	return v, nil
}

func (p *EnvProvider) variable(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
