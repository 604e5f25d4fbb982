package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rpzk/throttleguard/pkg/anomaly"
)

// SQLiteBackend implements Backend on a SQLite file. It runs in WAL mode with
// a single connection, since SQLite allows only one writer.
type SQLiteBackend struct {
	db        *sql.DB
	closeOnce sync.Once

	upsertProfileStmt *sql.Stmt
	loadProfilesStmt  *sql.Stmt
	insertSourceStmt  *sql.Stmt
	loadSourcesStmt   *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend opens (creating if needed) the database at cfg.Path.
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot path cannot be empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	b := &SQLiteBackend{db: db}

	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS anomaly_profiles (
		subject_id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		last_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flagged_sources (
		address TEXT PRIMARY KEY,
		flagged_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_last_seen ON anomaly_profiles(last_seen);
	`)
	return err
}

func (b *SQLiteBackend) prepareStatements() error {
	var err error

	b.upsertProfileStmt, err = b.db.Prepare(`
		INSERT INTO anomaly_profiles (subject_id, profile, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			profile = excluded.profile,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare profile upsert: %w", err)
	}

	b.loadProfilesStmt, err = b.db.Prepare(`SELECT profile FROM anomaly_profiles`)
	if err != nil {
		return fmt.Errorf("failed to prepare profile load: %w", err)
	}

	b.insertSourceStmt, err = b.db.Prepare(`
		INSERT INTO flagged_sources (address, flagged_at, reason, detail)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare source insert: %w", err)
	}

	b.loadSourcesStmt, err = b.db.Prepare(`
		SELECT address, flagged_at, reason, detail FROM flagged_sources
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare source load: %w", err)
	}

	return nil
}

// SaveProfiles upserts profiles by subject in one transaction.
func (b *SQLiteBackend) SaveProfiles(ctx context.Context, profiles []anomaly.Profile) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, b.upsertProfileStmt)
	for i := range profiles {
		data, err := json.Marshal(&profiles[i])
		if err != nil {
			return fmt.Errorf("failed to marshal profile %s: %w", profiles[i].SubjectID, err)
		}
		if _, err := stmt.ExecContext(ctx, profiles[i].SubjectID, string(data), profiles[i].LastSeen.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save profile %s: %w", profiles[i].SubjectID, err)
		}
	}

	return tx.Commit()
}

// LoadProfiles returns every stored profile.
func (b *SQLiteBackend) LoadProfiles(ctx context.Context) ([]anomaly.Profile, error) {
	rows, err := b.loadProfilesStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	var profiles []anomaly.Profile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		var p anomaly.Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// SaveSources replaces the flagged source table in one transaction.
func (b *SQLiteBackend) SaveSources(ctx context.Context, sources []anomaly.FlaggedSource) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flagged_sources`); err != nil {
		return fmt.Errorf("failed to clear flagged sources: %w", err)
	}

	stmt := tx.StmtContext(ctx, b.insertSourceStmt)
	for _, src := range sources {
		if _, err := stmt.ExecContext(ctx, src.Address, src.FlaggedAt.UnixMilli(), string(src.Reason), src.Detail); err != nil {
			return fmt.Errorf("failed to save flagged source %s: %w", src.Address, err)
		}
	}

	return tx.Commit()
}

// LoadSources returns the stored flagged sources.
func (b *SQLiteBackend) LoadSources(ctx context.Context) ([]anomaly.FlaggedSource, error) {
	rows, err := b.loadSourcesStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged sources: %w", err)
	}
	defer rows.Close()

	var sources []anomaly.FlaggedSource
	for rows.Next() {
		var (
			src       anomaly.FlaggedSource
			flaggedAt int64
			reason    string
		)
		if err := rows.Scan(&src.Address, &flaggedAt, &reason, &src.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan flagged source: %w", err)
		}
		src.FlaggedAt = time.UnixMilli(flaggedAt)
		src.Reason = anomaly.Type(reason)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flagged sources: %w", err)
	}

	return sources, nil
}

// Close checkpoints the WAL and closes the database. It is idempotent.
func (b *SQLiteBackend) Close() error {
	var closeErr error

	b.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			b.upsertProfileStmt,
			b.loadProfilesStmt,
			b.insertSourceStmt,
			b.loadSourcesStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		_, _ = b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = b.db.Close()
	})

	return closeErr
}
