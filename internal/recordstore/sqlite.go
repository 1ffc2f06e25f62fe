package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at);
`

// SQLite implements Store on a local SQLite file. Expiry is a unix-millis
// column checked on every read; expired rows are purged on write.
type SQLite struct {
	conn   *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, ttl time.Duration, logger *slog.Logger) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("recordstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: ping: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: apply schema: %w", err)
	}
	if ttl <= 0 {
		ttl = TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{conn: conn, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Get fetches a live record.
func (s *SQLite) Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	key := kind.Key(id)
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM records WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("recordstore: get %s: %w", key, err)
	}
	rec, err := decode([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("recordstore: get %s: %w", key, err)
	}
	return rec, nil
}

// List returns all live records under the kind's prefix.
func (s *SQLite) List(ctx context.Context, kind models.Kind) ([]*models.Record, error) {
	prefix := kind.KeyPrefix()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key, value FROM records WHERE substr(key, 1, ?) = ? AND expires_at > ?`,
		len(prefix), prefix, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("recordstore: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	var values [][]byte
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("recordstore: list %s: %w", prefix, err)
		}
		keys = append(keys, k)
		values = append(values, []byte(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recordstore: list %s: %w", prefix, err)
	}
	return decodeAll(s.logger, keys, values), nil
}

// Put upserts rec with a fresh expiry.
func (s *SQLite) Put(ctx context.Context, kind models.Kind, rec *models.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	key := kind.Key(rec.ID)
	now := s.now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recordstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, _ = tx.ExecContext(ctx, `DELETE FROM records WHERE expires_at <= ?`, now.UnixMilli())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			expires_at = excluded.expires_at
	`, key, string(data), now.Add(s.ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("recordstore: put %s: %w", key, err)
	}
	return tx.Commit()
}

// Delete removes a live record. An expired row counts as absent.
func (s *SQLite) Delete(ctx context.Context, kind models.Kind, id string) (bool, error) {
	key := kind.Key(id)
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM records WHERE key = ? AND expires_at > ?`, key, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("recordstore: delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recordstore: delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
