// Package snapshot persists anomaly detector state between restarts.
//
// Two backends are provided. MemoryBackend keeps state in process and is used
// in tests and when persistence is disabled. SQLiteBackend writes to a local
// database file through the pure Go modernc.org/sqlite driver.
package snapshot

import (
	"context"
	"sync"

	"github.com/rpzk/throttleguard/pkg/anomaly"
)

// Backend stores detector state. Implementations must be safe for concurrent
// use.
type Backend interface {
	anomaly.StateStore

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}

// MemoryBackend keeps state in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	profiles map[string]anomaly.Profile
	sources  []anomaly.FlaggedSource
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{profiles: make(map[string]anomaly.Profile)}
}

// SaveProfiles upserts profiles by subject.
func (m *MemoryBackend) SaveProfiles(_ context.Context, profiles []anomaly.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range profiles {
		m.profiles[p.SubjectID] = p
	}
	return nil
}

// LoadProfiles returns every stored profile.
func (m *MemoryBackend) LoadProfiles(_ context.Context) ([]anomaly.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]anomaly.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

// SaveSources replaces the stored flagged sources.
func (m *MemoryBackend) SaveSources(_ context.Context, sources []anomaly.FlaggedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append([]anomaly.FlaggedSource(nil), sources...)
	return nil
}

// LoadSources returns the stored flagged sources.
func (m *MemoryBackend) LoadSources(_ context.Context) ([]anomaly.FlaggedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]anomaly.FlaggedSource(nil), m.sources...), nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
