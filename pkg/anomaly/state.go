package anomaly

import (
	"context"
	"fmt"
)

// StateStore persists learned state across restarts. Event history is not
// persisted; it only matters for the last 24 hours.
type StateStore interface {
	SaveProfiles(ctx context.Context, profiles []Profile) error
	LoadProfiles(ctx context.Context) ([]Profile, error)
	SaveSources(ctx context.Context, sources []FlaggedSource) error
	LoadSources(ctx context.Context) ([]FlaggedSource, error)
}

// Snapshot writes every profile and flagged source to store.
func (d *Detector) Snapshot(ctx context.Context, store StateStore) error {
	d.mu.Lock()
	profiles := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		profiles = append(profiles, p.clone())
	}
	sources := make([]FlaggedSource, 0, len(d.sources))
	for _, src := range d.sources {
		sources = append(sources, src)
	}
	d.mu.Unlock()

	if err := store.SaveProfiles(ctx, profiles); err != nil {
		return fmt.Errorf("failed to save profiles: %w", err)
	}
	if err := store.SaveSources(ctx, sources); err != nil {
		return fmt.Errorf("failed to save flagged sources: %w", err)
	}

	d.logger.Info("anomaly state saved",
		"profiles", len(profiles),
		"flagged_sources", len(sources),
	)
	return nil
}

// Restore loads profiles and flagged sources from store, replacing entries
// with the same key. Sources already past their TTL are skipped.
func (d *Detector) Restore(ctx context.Context, store StateStore) error {
	profiles, err := store.LoadProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	sources, err := store.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flagged sources: %w", err)
	}

	now := d.config.Clock()
	restored := 0

	d.mu.Lock()
	for i := range profiles {
		p := profiles[i].clone()
		d.profiles[p.SubjectID] = &p
	}
	for _, src := range sources {
		if now.Sub(src.FlaggedAt) >= d.config.SuspiciousSourceTTL {
			continue
		}
		d.sources[src.Address] = src
		restored++
	}
	stats := d.statsLocked()
	d.mu.Unlock()

	d.recorder.RecordState(stats)
	d.logger.Info("anomaly state restored",
		"profiles", len(profiles),
		"flagged_sources", restored,
	)
	return nil
}
