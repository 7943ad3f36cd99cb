package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"assetedge/config"
	"assetedge/protocol"
)

// Postgres is the Backend over a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// DSN builds a connection string from config.
func DSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
}

// OpenPostgres creates the connection pool. It does not wait for the server:
// terminals start offline all the time.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the tables and change triggers if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) CreateAsset(ctx context.Context, a protocol.Asset, actingUser string) error {
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO assets (id, code, name, category, location, status, notes, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Code, a.Name, a.Category, a.Location, a.Status, a.Notes, actingUser, updatedAt)
	if err != nil {
		return fmt.Errorf("create asset %s: %w", a.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateAsset(ctx context.Context, id string, fields map[string]any, clientTS time.Time) error {
	query, args, err := buildUpdate(id, fields, clientTS)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update asset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		log.Printf("backend: update of asset %s at %s lost to a newer write or a delete", id, clientTS.Format(time.RFC3339Nano))
	}
	return nil
}

// buildUpdate renders the last-write-wins UPDATE for fields. Columns are
// emitted in sorted order so identical patches produce identical SQL.
func buildUpdate(id string, fields map[string]any, clientTS time.Time) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("update asset %s: no fields", id)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := writableFields[name]; !ok {
			return "", nil, fmt.Errorf("update asset %s: %w: %q", id, ErrUnknownField, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		args = append(args, fields[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", writableFields[name], len(args)))
	}
	args = append(args, clientTS.UTC())
	ts := len(args)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", ts))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE assets SET %s WHERE id = $%d AND updated_at <= $%d`,
		strings.Join(sets, ", "), len(args), ts)
	return query, args, nil
}

func (p *Postgres) DeleteAsset(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) CheckAsset(ctx context.Context, id, actingUser, notes string) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO inventory_checks (asset_id, checked_by, notes, checked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET checked_by = EXCLUDED.checked_by, notes = EXCLUDED.notes, checked_at = EXCLUDED.checked_at`,
		id, actingUser, notes)
	if err != nil {
		return fmt.Errorf("check asset %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) UncheckAsset(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM inventory_checks WHERE asset_id = $1`, id); err != nil {
		return fmt.Errorf("uncheck asset %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) AppendScanRecord(ctx context.Context, scanID, actingUser, assetID string) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO scan_records (id, asset_id, scanned_by) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, scanID, assetID, actingUser)
	if err != nil {
		return fmt.Errorf("append scan %s: %w", scanID, err)
	}
	return nil
}

func (p *Postgres) ListAssets(ctx context.Context) ([]protocol.Asset, error) {
	rows, err := p.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.category, a.location, a.status, a.notes, a.updated_at,
			c.checked_by, c.checked_at
		FROM assets a
		LEFT JOIN inventory_checks c ON c.asset_id = a.id
		ORDER BY a.code`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []protocol.Asset
	for rows.Next() {
		var a protocol.Asset
		var checkedBy *string
		var checkedAt *time.Time
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.Location, &a.Status, &a.Notes, &a.UpdatedAt,
			&checkedBy, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if checkedBy != nil {
			a.Checked = true
			a.CheckedBy = *checkedBy
			a.CheckedAt = checkedAt
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Subscribe listens on ChangesChannel with a dedicated pooled connection.
// The first LISTEN is attempted before returning; if the server is not
// reachable yet, or the connection drops later, it is re-established with
// backoff until ctx is done.
func (p *Postgres) Subscribe(ctx context.Context, tables []string, fn func(protocol.RowChanged)) error {
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	l, err := p.listen(ctx)
	if err != nil {
		log.Printf("backend: change feed down, will retry: %v", err)
	}
	f := &feed{listen: p.listen, backoff: listenBackoff, want: want, fn: fn}
	go f.run(ctx, l)
	return nil
}

// listener is one LISTEN session.
type listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type poolListener struct {
	conn *pgxpool.Conn
}

func (l poolListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.Conn().WaitForNotification(ctx)
}

func (l poolListener) Release() { l.conn.Release() }

func (p *Postgres) listen(ctx context.Context) (listener, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangesChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", ChangesChannel, err)
	}
	return poolListener{conn: conn}, nil
}

// feed keeps a LISTEN session alive and hands decoded notices to fn.
type feed struct {
	listen  func(context.Context) (listener, error)
	backoff func(attempt int) time.Duration
	want    map[string]bool
	fn      func(protocol.RowChanged)
}

// run drains l, if any, then reconnects until ctx is done.
func (f *feed) run(ctx context.Context, l listener) {
	attempt := 0
	for {
		if l != nil {
			err := f.drain(ctx, l)
			l.Release()
			l = nil
			if ctx.Err() != nil {
				return
			}
			log.Printf("backend: change feed interrupted: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff(attempt)):
		}
		var err error
		if l, err = f.listen(ctx); err != nil {
			attempt++
			continue
		}
		if attempt > 0 {
			log.Printf("backend: change feed restored after %d attempts", attempt+1)
		}
		attempt = 0
	}
}

func (f *feed) drain(ctx context.Context, l listener) error {
	for {
		n, err := l.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var rc protocol.RowChanged
		if err := json.Unmarshal([]byte(n.Payload), &rc); err != nil {
			log.Printf("backend: bad change payload %q: %v", n.Payload, err)
			continue
		}
		if len(f.want) > 0 && !f.want[rc.Table] {
			continue
		}
		f.fn(rc)
	}
}

func listenBackoff(attempt int) time.Duration {
	return time.Second << min(attempt, 5)
}

// IsTransient reports whether err looks like a connectivity failure rather
// than a rejected request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, ErrUnknownField) {
		return false
	}
	// The server answered and refused.
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}
