package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// PolicyTable merges the configured overrides onto the built-in table. A
// field left at its zero value keeps the built-in value, so an override
// can change just the limit of one category.
func (l *LimitsConfig) PolicyTable() (map[limits.Category]limits.Policy, error) {
	table := limits.DefaultPolicies()

	for name, override := range l.Policies {
		category, err := limits.ParseCategory(name)
		if err != nil {
			return nil, err
		}

		p := table[category]
		if override.Limit != 0 {
			p.Limit = override.Limit
		}
		if override.Window != 0 {
			p.Window = override.Window
		}
		if override.BlockDuration != 0 {
			p.BlockDuration = override.BlockDuration
		}
		if override.KeyPrefix != "" {
			p.KeyPrefix = override.KeyPrefix
		}
		table[category] = p
	}

	if err := limits.ValidatePolicies(table); err != nil {
		return nil, err
	}
	return table, nil
}

// SecretResolver replaces ${secret:name} references in a value.
type SecretResolver interface {
	ResolveReferences(ctx context.Context, input string) (string, error)
}

// ResolveSecrets replaces secret references in the fields that accept them:
// the coordination store credentials and the inline API keys.
func ResolveSecrets(ctx context.Context, cfg *Config, r SecretResolver) error {
	fields := []*string{&cfg.Limits.Redis.Username, &cfg.Limits.Redis.Password}
	for i := range cfg.Security.Auth.Keys {
		fields = append(fields, &cfg.Security.Auth.Keys[i].Key)
	}

	for _, f := range fields {
		if *f == "" {
			continue
		}
		resolved, err := r.ResolveReferences(ctx, *f)
		if err != nil {
			return err
		}
		*f = resolved
	}
	return nil
}

// keysFile is the document format of AuthConfig.KeysFile.
type keysFile struct {
	Keys []auth.APIKeyInfo `yaml:"keys"`
}

// APIKeys returns the inline keys followed by the keys file entries. Keys
// from the file are resolved through r when it is not nil.
func (a *AuthConfig) APIKeys(ctx context.Context, r SecretResolver) ([]*auth.APIKeyInfo, error) {
	out := make([]*auth.APIKeyInfo, 0, len(a.Keys))
	for i := range a.Keys {
		k := a.Keys[i]
		out = append(out, &k)
	}

	if a.KeysFile == "" {
		return out, nil
	}

	data, err := os.ReadFile(a.KeysFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys file %q: %w", a.KeysFile, err)
	}
	var doc keysFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse keys file %q: %w", a.KeysFile, err)
	}

	for i := range doc.Keys {
		k := doc.Keys[i]
		if r != nil {
			resolved, err := r.ResolveReferences(ctx, k.Key)
			if err != nil {
				return nil, fmt.Errorf("keys file %q entry %d: %w", a.KeysFile, i, err)
			}
			k.Key = resolved
		}
		out = append(out, &k)
	}
	return out, nil
}
