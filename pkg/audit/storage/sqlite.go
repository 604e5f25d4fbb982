package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rpzk/throttleguard/pkg/audit"
)

var errMissingID = errors.New("entry has no ID")

// SQLiteConfig contains configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/audit.db"
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements audit.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	insert *sql.Stmt

	closeOnce sync.Once
	logger    *slog.Logger
}

// NewSQLiteStorage opens (or creates) the database and applies the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, audit.NewStorageError("sqlite", "open", errors.New("path is required"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return audit.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	stmt, err := s.db.Prepare(insertEntry)
	if err != nil {
		return audit.NewStorageError("sqlite", "prepare", err)
	}
	s.insert = stmt
	return nil
}

// Store persists a single entry.
func (s *SQLiteStorage) Store(ctx context.Context, entry *audit.Entry) error {
	if entry == nil || entry.ID == "" {
		return audit.NewStorageError("sqlite", "store", errMissingID)
	}

	var details sql.NullString
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return audit.NewStorageError("sqlite", "marshal_details", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.insert.ExecContext(ctx,
		entry.ID,
		entry.Timestamp.UnixMilli(),
		entry.ActorID,
		entry.ActorEmail,
		entry.ActorRole,
		string(entry.Action),
		entry.Resource,
		entry.Success,
		details,
		entry.ErrorMessage,
	)
	if err != nil {
		return audit.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Entry, error) {
	where, args := buildWhereClause(query)

	stmt := "SELECT " + selectColumns + " FROM audit_log"
	if where != "" {
		stmt += " WHERE " + where
	}
	stmt += " ORDER BY timestamp_ms DESC, id"

	if query != nil && (query.Limit > 0 || query.Offset > 0) {
		limit := query.Limit
		if limit <= 0 {
			limit = -1
		}
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, limit, query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	var results []*audit.Entry
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	return results, nil
}

// Count returns the number of matching entries.
func (s *SQLiteStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	stmt := "SELECT COUNT(*) FROM audit_log"
	if where != "" {
		stmt += " WHERE " + where
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, audit.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Delete removes entries recorded before olderThan.
func (s *SQLiteStorage) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp_ms < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Close releases the prepared statement and the database handle. It is safe
// to call more than once.
func (s *SQLiteStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.insert != nil {
			s.insert.Close()
		}
		if cerr := s.db.Close(); cerr != nil {
			err = audit.NewStorageError("sqlite", "close", cerr)
			return
		}
		s.logger.Info("SQLite audit storage closed")
	})
	return err
}

// buildWhereClause returns the WHERE clause (without the keyword) and its
// arguments.
func buildWhereClause(query *audit.Query) (string, []any) {
	if query == nil {
		return "", nil
	}

	var conditions []string
	var args []any

	if query.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, query.ActorID)
	}
	if query.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(query.Action))
	}
	if !query.Since.IsZero() {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, query.Since.UnixMilli())
	}
	if !query.Until.IsZero() {
		conditions = append(conditions, "timestamp_ms <= ?")
		args = append(args, query.Until.UnixMilli())
	}
	if query.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *query.Success)
	}

	return strings.Join(conditions, " AND "), args
}

func scanRow(rows *sql.Rows) (*audit.Entry, error) {
	var (
		e                        audit.Entry
		tsMillis                 int64
		email, role, errMsg, dat sql.NullString
		action                   string
	)
	if err := rows.Scan(&e.ID, &tsMillis, &e.ActorID, &email, &role,
		&action, &e.Resource, &e.Success, &dat, &errMsg); err != nil {
		return nil, err
	}

	e.Timestamp = time.UnixMilli(tsMillis).UTC()
	e.ActorEmail = email.String
	e.ActorRole = role.String
	e.Action = audit.Action(action)
	e.ErrorMessage = errMsg.String

	if dat.Valid && dat.String != "" {
		if err := json.Unmarshal([]byte(dat.String), &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return &e, nil
}
