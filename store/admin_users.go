package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AdminUser may clear failed queue entries from the diagnostics view.
type AdminUser struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrNoAdminUser is returned by GetAdminUser for an unknown username.
var ErrNoAdminUser = errors.New("admin user not found")

func (db *DB) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	u := &AdminUser{}
	var updatedAt int64
	err := db.QueryRowContext(ctx, `SELECT username, password_hash, updated_at FROM admin_users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAdminUser
	}
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Unix(0, updatedAt)
	return u, nil
}

// SetAdminUser creates the user or replaces its password hash.
func (db *DB) SetAdminUser(ctx context.Context, username, passwordHash string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO admin_users (username, password_hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, updated_at = excluded.updated_at`,
		username, passwordHash, time.Now().UnixNano())
	return err
}

func (db *DB) AdminUserExists(ctx context.Context) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count)
	return count > 0, err
}
