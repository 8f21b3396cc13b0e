package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a CounterStore persisted in a local SQLite file. A single
// connection plus one transaction per operation keeps every update atomic.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, clock func() time.Time, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if clock == nil {
		clock = time.Now
	}
	store := &SQLiteStore{db: db, logger: logger, now: clock}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS window_events (
		key        TEXT NOT NULL,
		member     TEXT NOT NULL,
		at_ms      INTEGER NOT NULL,
		expires_ms INTEGER NOT NULL,
		PRIMARY KEY (key, member)
	);
	CREATE INDEX IF NOT EXISTS idx_window_key_at ON window_events(key, at_ms);

	CREATE TABLE IF NOT EXISTS counters (
		key        TEXT PRIMARY KEY,
		value      INTEGER NOT NULL,
		expires_ms INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) WindowAdd(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	now := at.UnixMilli()
	cutoff := now - window.Milliseconds()
	expires := now + window.Milliseconds()

	var count int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO window_events (key, member, at_ms, expires_ms) VALUES (?, ?, ?, ?)`,
			key, uuid.NewString(), now, expires,
		); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM window_events WHERE key = ? AND at_ms < ?`, key, cutoff,
		); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM window_events WHERE key = ?`, key,
		).Scan(&count); err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE window_events SET expires_ms = ? WHERE key = ?`, expires, key,
		); err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("window add %s: %w", key, err)
	}
	return count, nil
}

func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now().UnixMilli()

	var value int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var current, expires int64
		err := tx.QueryRowContext(ctx,
			`SELECT value, expires_ms FROM counters WHERE key = ?`, key,
		).Scan(&current, &expires)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = 0
		case err != nil:
			return fmt.Errorf("read: %w", err)
		case expires <= now:
			current = 0
		}
		value = current + 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO counters (key, value, expires_ms) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_ms = excluded.expires_ms`,
			key, value, now+ttl.Milliseconds(),
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (int64, error) {
	var value, expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_ms FROM counters WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	if expires <= s.now().UnixMilli() {
		return 0, nil
	}
	return value, nil
}

func (s *SQLiteStore) Del(ctx context.Context, key string) error {
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM counters WHERE key = ?`, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM window_events WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Sweep deletes expired rows and reports how many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	var removed int64
	for _, q := range []string{
		`DELETE FROM window_events WHERE expires_ms <= ?`,
		`DELETE FROM counters WHERE expires_ms <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, now)
		if err != nil {
			return int(removed), fmt.Errorf("sweep: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return int(removed), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
