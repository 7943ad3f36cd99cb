package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// QueuedAction is the persisted form of an offline mutation awaiting replay.
type QueuedAction struct {
	ID         string
	Type       string
	Payload    []byte
	EnqueuedAt time.Time
	RetryCount int
	Status     string
	LastError  string
}

const actionCols = `id, type, payload, enqueued_at, retry_count, status, last_error`

// PutAction inserts or overwrites an action by id in a single statement.
func (db *DB) PutAction(ctx context.Context, a QueuedAction) error {
	_, err := db.ExecContext(ctx, `INSERT INTO queued_actions (`+actionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			payload = excluded.payload,
			enqueued_at = excluded.enqueued_at,
			retry_count = excluded.retry_count,
			status = excluded.status,
			last_error = excluded.last_error`,
		a.ID, a.Type, a.Payload, a.EnqueuedAt.UnixNano(), a.RetryCount, a.Status, a.LastError)
	return err
}

// AllActions returns every stored action. Ordering is not part of the contract.
func (db *DB) AllActions(ctx context.Context) ([]QueuedAction, error) {
	return db.queryActions(ctx, `SELECT `+actionCols+` FROM queued_actions`)
}

// ActionsWithStatus returns the stored actions in the given status.
func (db *DB) ActionsWithStatus(ctx context.Context, status string) ([]QueuedAction, error) {
	return db.queryActions(ctx, `SELECT `+actionCols+` FROM queued_actions WHERE status = ?`, status)
}

// GetAction looks up one action. ok is false when the id is absent.
func (db *DB) GetAction(ctx context.Context, id string) (a QueuedAction, ok bool, err error) {
	row := db.QueryRowContext(ctx, `SELECT `+actionCols+` FROM queued_actions WHERE id = ?`, id)
	a, err = scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedAction{}, false, nil
	}
	if err != nil {
		return QueuedAction{}, false, err
	}
	return a, true, nil
}

// DeleteAction removes an action. Deleting an absent id is not an error.
func (db *DB) DeleteAction(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id)
	return err
}

// ClearActions removes every queued action.
func (db *DB) ClearActions(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM queued_actions`)
	return err
}

func (db *DB) queryActions(ctx context.Context, query string, args ...any) ([]QueuedAction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueuedAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(s rowScanner) (QueuedAction, error) {
	var a QueuedAction
	var enqueuedAt int64
	if err := s.Scan(&a.ID, &a.Type, &a.Payload, &enqueuedAt, &a.RetryCount, &a.Status, &a.LastError); err != nil {
		return QueuedAction{}, err
	}
	a.EnqueuedAt = time.Unix(0, enqueuedAt)
	return a, nil
}
