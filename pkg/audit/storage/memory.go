package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpzk/throttleguard/pkg/audit"
)

// MemoryStorage keeps audit entries in a map. Entries are lost on restart.
type MemoryStorage struct {
	entries map[string]*audit.Entry
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*audit.Entry),
	}
}

// Store saves a copy of entry.
func (s *MemoryStorage) Store(ctx context.Context, entry *audit.Entry) error {
	if entry == nil || entry.ID == "" {
		return audit.NewStorageError("memory", "store", errMissingID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyEntry(entry)
	s.entries[entry.ID] = cp
	return nil
}

// Query returns matching entries, newest first.
func (s *MemoryStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Entry, error) {
	s.mu.RLock()
	var results []*audit.Entry
	for _, e := range s.entries {
		if query.Matches(e) {
			results = append(results, copyEntry(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if query == nil {
		return results, nil
	}

	start := query.Offset
	if start > len(results) {
		return []*audit.Entry{}, nil
	}
	results = results[start:]
	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}
	return results, nil
}

// Count returns the number of matching entries.
func (s *MemoryStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if query.Matches(e) {
			n++
		}
	}
	return n, nil
}

// Delete removes entries recorded before olderThan.
func (s *MemoryStorage) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.entries {
		if e.Timestamp.Before(olderThan) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close drops every entry.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*audit.Entry)
	return nil
}

func copyEntry(e *audit.Entry) *audit.Entry {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}
