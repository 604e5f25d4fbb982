package auth

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownKey is returned for keys that are not configured.
	ErrUnknownKey = errors.New("invalid API key")

	// ErrKeyDisabled is returned for configured keys that are disabled.
	ErrKeyDisabled = errors.New("API key disabled")
)

// APIKeyValidator validates API keys against a configured set of keys.
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyInfo
}

// NewAPIKeyValidator creates a validator with the given keys.
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	v := &APIKeyValidator{keys: make(map[string]*APIKeyInfo, len(keys))}
	for _, k := range keys {
		v.keys[k.Key] = k
	}
	return v
}

// Validate returns the key's info, or ErrUnknownKey. A disabled key returns
// its info together with ErrKeyDisabled.
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	info, ok := v.keys[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	if !info.Enabled {
		return info, ErrKeyDisabled
	}
	return info, nil
}

// Replace swaps the whole key set, used when configuration is reloaded.
func (v *APIKeyValidator) Replace(keys []*APIKeyInfo) {
	m := make(map[string]*APIKeyInfo, len(keys))
	for _, k := range keys {
		m[k.Key] = k
	}
	v.mu.Lock()
	v.keys = m
	v.mu.Unlock()
}

// Len returns the number of configured keys.
func (v *APIKeyValidator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
