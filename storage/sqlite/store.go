// Package sqlite provides a SQLite implementation of the queuekit
// ActionStore, the durable home of queued offline actions on device.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/thittam1hub/queuekit"
	qerrors "github.com/thittam1hub/queuekit/errors"
	"github.com/thittam1hub/queuekit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opPut       qerrors.Operation = "sqlite.Put"
	opDelete    qerrors.Operation = "sqlite.Delete"
	opLoadAll   qerrors.Operation = "sqlite.LoadAll"
	opSaveIndex qerrors.Operation = "sqlite.SaveIndex"
	opLoadIndex qerrors.Operation = "sqlite.LoadIndex"
)

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
)

// Config holds configuration options for the ActionStore.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:queue.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to
	// DataSourceName.
	EnableWAL bool

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			if strings.Contains(c.DataSourceName, "?") {
				c.DataSourceName += "&_journal_mode=WAL"
			} else {
				c.DataSourceName += "?_journal_mode=WAL"
			}
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*ActionStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// ActionStore implements the queuekit.ActionStore interface for SQLite.
// Put and Delete keep the serialized actions and the live-id manifest
// consistent inside a single transaction.
type ActionStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time check to ensure ActionStore satisfies the interface
var _ queuekit.ActionStore = (*ActionStore)(nil)

// New creates a new ActionStore from a Config.
func New(config *Config) (*ActionStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.Info("opening SQLite action store",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &ActionStore{
		db:     db,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// setupSchema creates the action tables if they don't exist.
func (s *ActionStore) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS queued_actions (
        id            TEXT PRIMARY KEY,
        action_type   TEXT NOT NULL,
        payload       TEXT,
        created_at    TEXT NOT NULL,
        retry_count   INTEGER NOT NULL DEFAULT 0,
        next_retry_at TEXT,
        last_error    TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_queued_actions_created_at ON queued_actions (created_at);
    CREATE TABLE IF NOT EXISTS action_manifest (
        id TEXT PRIMARY KEY
    );
    CREATE TABLE IF NOT EXISTS counters (
        key   TEXT PRIMARY KEY,
        value INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(query)
	return err
}

// Put upserts one action's full serialized state together with its manifest
// entry in a single transaction.
func (s *ActionStore) Put(ctx context.Context, action *queuekit.Action) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	payloadJSON, err := json.Marshal(action.Payload)
	if err != nil {
		return qerrors.WrapOpComponent(err, opPut, "storage/sqlite")
	}

	var nextRetryAt sql.NullString
	if action.NextRetryAt != nil {
		nextRetryAt = sql.NullString{
			String: action.NextRetryAt.UTC().Format(time.RFC3339Nano),
			Valid:  true,
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.WrapOpComponent(err, opPut, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query := `INSERT INTO queued_actions (id, action_type, payload, created_at, retry_count, next_retry_at, last_error)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  action_type = excluded.action_type,
                  payload = excluded.payload,
                  created_at = excluded.created_at,
                  retry_count = excluded.retry_count,
                  next_retry_at = excluded.next_retry_at,
                  last_error = excluded.last_error`
	_, err = tx.ExecContext(ctx, query,
		action.ID,
		string(action.Type),
		string(payloadJSON),
		action.CreatedAt.UTC().Format(time.RFC3339Nano),
		action.RetryCount,
		nextRetryAt,
		action.LastError,
	)
	if err != nil {
		return qerrors.WrapOpComponent(err, opPut, "storage/sqlite")
	}

	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO action_manifest (id) VALUES (?)`, action.ID)
	if err != nil {
		return qerrors.WrapOpComponent(err, opPut, "storage/sqlite")
	}

	if err = tx.Commit(); err != nil {
		return qerrors.WrapOpComponent(err, opPut, "storage/sqlite")
	}
	return nil
}

// Delete removes an action and its manifest entry. Deleting an unknown id is
// a no-op.
func (s *ActionStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id); err != nil {
		return qerrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM action_manifest WHERE id = ?`, id); err != nil {
		return qerrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}

	if err = tx.Commit(); err != nil {
		return qerrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}
	return nil
}

// LoadAll returns every live action. Only ids present in the manifest are
// returned, so an interrupted write can never resurrect a half-deleted
// action.
func (s *ActionStore) LoadAll(ctx context.Context) ([]*queuekit.Action, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := `SELECT a.id, a.action_type, a.payload, a.created_at, a.retry_count, a.next_retry_at, a.last_error
              FROM queued_actions a
              INNER JOIN action_manifest m ON a.id = m.id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, qerrors.WrapOpComponent(err, opLoadAll, "storage/sqlite")
	}
	defer rows.Close()

	return scanActions(rows)
}

// SaveIndex replaces the manifest of live action ids.
func (s *ActionStore) SaveIndex(ctx context.Context, ids []string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.WrapOpComponent(err, opSaveIndex, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM action_manifest`); err != nil {
		return qerrors.WrapOpComponent(err, opSaveIndex, "storage/sqlite")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO action_manifest (id) VALUES (?)`)
	if err != nil {
		return qerrors.WrapOpComponent(err, opSaveIndex, "storage/sqlite")
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, id); err != nil {
			return qerrors.WrapOpComponent(err, opSaveIndex, "storage/sqlite")
		}
	}

	if err = tx.Commit(); err != nil {
		return qerrors.WrapOpComponent(err, opSaveIndex, "storage/sqlite")
	}
	return nil
}

// LoadIndex returns the manifest of live action ids.
func (s *ActionStore) LoadIndex(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM action_manifest`)
	if err != nil {
		return nil, qerrors.WrapOpComponent(err, opLoadIndex, "storage/sqlite")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, qerrors.WrapOpComponent(err, opLoadIndex, "storage/sqlite")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.WrapOpComponent(err, opLoadIndex, "storage/sqlite")
	}
	return ids, nil
}

// Close closes the database connection.
func (s *ActionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *ActionStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// scanActions is a helper to scan sql.Rows into a slice of actions.
func scanActions(rows *sql.Rows) ([]*queuekit.Action, error) {
	var actions []*queuekit.Action
	for rows.Next() {
		var (
			actionType  string
			payload     sql.NullString
			createdAt   string
			nextRetryAt sql.NullString
			lastError   sql.NullString
		)
		a := &queuekit.Action{}

		if err := rows.Scan(&a.ID, &actionType, &payload, &createdAt, &a.RetryCount, &nextRetryAt, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}

		a.Type = queuekit.ActionType(actionType)

		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload for action %s: %w", a.ID, err)
			}
		}

		created, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for action %s: %w", a.ID, err)
		}
		a.CreatedAt = created

		if nextRetryAt.Valid {
			next, err := time.Parse(time.RFC3339Nano, nextRetryAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse next_retry_at for action %s: %w", a.ID, err)
			}
			a.NextRetryAt = &next
		}

		if lastError.Valid {
			a.LastError = lastError.String
		}

		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return actions, nil
}
