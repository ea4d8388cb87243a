package sqlite

import (
	"context"
	"database/sql"

	"github.com/thittam1hub/queuekit/counters"
	qerrors "github.com/thittam1hub/queuekit/errors"
)

const (
	opSaveCounters qerrors.Operation = "sqlite.SaveCounters"
	opLoadCounters qerrors.Operation = "sqlite.LoadCounters"
)

// CounterStore persists counter snapshots in the same SQLite database as the
// action queue. It satisfies counters.SnapshotStore.
type CounterStore struct {
	store *ActionStore
}

// Compile-time check to ensure CounterStore satisfies the interface
var _ counters.SnapshotStore = (*CounterStore)(nil)

// NewCounterStore creates a counter store sharing the action store's
// database handle. The action store owns the connection lifecycle.
func NewCounterStore(store *ActionStore) *CounterStore {
	return &CounterStore{store: store}
}

// Save replaces the persisted snapshot with values in one transaction.
func (c *CounterStore) Save(ctx context.Context, values map[string]int64) error {
	c.store.mu.RLock()
	if c.store.closed {
		c.store.mu.RUnlock()
		return ErrStoreClosed
	}
	c.store.mu.RUnlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.WrapOpComponent(err, opSaveCounters, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM counters`); err != nil {
		return qerrors.WrapOpComponent(err, opSaveCounters, "storage/sqlite")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO counters (key, value) VALUES (?, ?)`)
	if err != nil {
		return qerrors.WrapOpComponent(err, opSaveCounters, "storage/sqlite")
	}
	defer stmt.Close()

	for key, value := range values {
		if _, err = stmt.ExecContext(ctx, key, value); err != nil {
			return qerrors.WrapOpComponent(err, opSaveCounters, "storage/sqlite")
		}
	}

	if err = tx.Commit(); err != nil {
		return qerrors.WrapOpComponent(err, opSaveCounters, "storage/sqlite")
	}
	return nil
}

// Load returns the persisted snapshot, empty when none exists.
func (c *CounterStore) Load(ctx context.Context) (map[string]int64, error) {
	c.store.mu.RLock()
	if c.store.closed {
		c.store.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	c.store.mu.RUnlock()

	rows, err := c.store.db.QueryContext(ctx, `SELECT key, value FROM counters`)
	if err != nil {
		return nil, qerrors.WrapOpComponent(err, opLoadCounters, "storage/sqlite")
	}
	defer rows.Close()

	values := make(map[string]int64)
	for rows.Next() {
		var key string
		var value sql.NullInt64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, qerrors.WrapOpComponent(err, opLoadCounters, "storage/sqlite")
		}
		if value.Valid {
			values[key] = value.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.WrapOpComponent(err, opLoadCounters, "storage/sqlite")
	}
	return values, nil
}
