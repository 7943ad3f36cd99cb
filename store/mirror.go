package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetedge/protocol"
)

// ReplaceMirror overwrites the offline asset mirror with the given collection.
// The mirror never expires; it is what the UI falls back to with zero network.
func (db *DB) ReplaceMirror(ctx context.Context, items []protocol.Asset, fetchedAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_mirror`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO asset_mirror (position, asset_id, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode asset %s: %w", item.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, item.ID, data); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO mirror_meta (id, fetched_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at`, fetchedAt.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadMirror returns the mirrored collection in its original order and the
// time it was fetched. A never-populated mirror returns no items and a zero time.
func (db *DB) LoadMirror(ctx context.Context) ([]protocol.Asset, time.Time, error) {
	var fetchedAt int64
	err := db.QueryRowContext(ctx, `SELECT fetched_at FROM mirror_meta WHERE id = 1`).Scan(&fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT data FROM asset_mirror ORDER BY position`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()
	var items []protocol.Asset
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, time.Time{}, err
		}
		var a protocol.Asset
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, time.Time{}, fmt.Errorf("decode mirrored asset: %w", err)
		}
		items = append(items, a)
	}
	return items, time.Unix(0, fetchedAt), rows.Err()
}
