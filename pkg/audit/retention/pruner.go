// Package retention deletes audit entries past their retention period.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep entries.
	// 0 keeps entries forever.
	RetentionDays int

	// PruneSchedule is a standard cron expression.
	// Default: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// ArchiveBeforeDelete writes expiring entries to ArchivePath as JSON
	// before deleting them.
	ArchiveBeforeDelete bool

	// ArchivePath is the archive directory.
	ArchivePath string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
		ArchivePath:   "data/archives/",
	}
}

// Pruner applies the retention policy to an audit store.
type Pruner struct {
	storage audit.Storage
	config  *Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewPruner creates a pruner. A nil config uses DefaultConfig.
func NewPruner(storage audit.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pruner{
		storage: storage,
		config:  config,
		now:     time.Now,
		logger:  slog.Default().With("component", "audit.retention"),
	}
}

// Cutoff returns the instant before which entries are deleted, and false
// when retention is disabled.
func (p *Pruner) Cutoff() (time.Time, bool) {
	if p.config.RetentionDays <= 0 {
		return time.Time{}, false
	}
	return p.now().AddDate(0, 0, -p.config.RetentionDays), true
}

// Prune deletes entries older than the retention period and returns how many
// were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff, ok := p.Cutoff()
	if !ok {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, cutoff); err != nil {
			return 0, fmt.Errorf("archive before prune: %w", err)
		}
	}

	deleted, err := p.storage.Delete(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		p.logger.Info("audit entries pruned",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
		)
	} else {
		p.logger.Debug("no audit entries pruned", "retention_days", p.config.RetentionDays)
	}
	return deleted, nil
}

// archive writes every entry older than cutoff to a timestamped JSON file.
func (p *Pruner) archive(ctx context.Context, cutoff time.Time) error {
	entries, err := p.storage.Query(ctx, &audit.Query{Until: cutoff.Add(-time.Millisecond)})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	export.SortOldestFirst(entries)

	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return err
	}

	name := fmt.Sprintf("audit-%s.json", p.now().UTC().Format("20060102-150405"))
	path := filepath.Join(p.config.ArchivePath, name)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := (&export.JSONExporter{Pretty: true}).Export(ctx, entries, f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	p.logger.Info("audit entries archived", "path", path, "count", len(entries))
	return nil
}
