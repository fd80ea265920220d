package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite"
)

// SQLiteStore implements Store on a SQLite database. It survives restarts
// and suits single-instance deployments.
//
// Values are kept as TEXT with an expiry in unix milliseconds (0 = never).
type SQLiteStore struct {
	db        *sql.DB
	path      string
	opts      options
	closeOnce sync.Once

	incrStmt  *sql.Stmt
	getStmt   *sql.Stmt
	setStmt   *sql.Stmt
	sweepStmt *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, needs cgo).
	// Default: "sqlite"
	Driver string
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig, opts ...Option) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:   db,
		path: cfg.Path,
		opts: buildOptions("usage.sqlite", opts),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

// sqliteDSN builds the connection string. The two drivers spell their
// pragma parameters differently.
func sqliteDSN(cfg SQLiteConfig) (string, error) {
	ms := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case "sqlite":
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			cfg.Path, ms), nil
	case "sqlite3":
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", cfg.Path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_usage_kv_expires_at ON usage_kv(expires_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	// An expired row restarts from the increment amount.
	s.incrStmt, err = s.db.Prepare(`
		INSERT INTO usage_kv (key, value, expires_at)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN usage_kv.expires_at > 0 AND usage_kv.expires_at <= ?4 THEN excluded.value
				ELSE CAST(CAST(usage_kv.value AS REAL) + CAST(excluded.value AS REAL) AS TEXT)
			END,
			expires_at = excluded.expires_at
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT value FROM usage_kv
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.setStmt, err = s.db.Prepare(`
		INSERT INTO usage_kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set statement: %w", err)
	}

	s.sweepStmt, err = s.db.Prepare(`
		DELETE FROM usage_kv WHERE expires_at > 0 AND expires_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sweep statement: %w", err)
	}

	return nil
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.opts.clock.Now().UnixMilli()
}

func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.opts.clock.Now().Add(ttl).UnixMilli()
}

// Increment implements Store.
func (s *SQLiteStore) Increment(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	var raw string
	err := s.incrStmt.QueryRowContext(ctx, key, formatNumber(amount), s.expiry(ttl), s.nowMillis()).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("failed to increment %q: %w", key, err)
	}
	return parseNumber(key, raw)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (float64, error) {
	raw, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return parseNumber(key, string(raw))
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var raw string
	err := s.getStmt.QueryRowContext(ctx, key, s.nowMillis()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return []byte(raw), true, nil
}

// SetWithTTL implements Store.
func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.setStmt.ExecContext(ctx, key, string(value), s.expiry(ttl)); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// KeysMatching implements Store using SQLite GLOB, which shares the glob
// syntax of the other backends.
func (s *SQLiteStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM usage_kv
		WHERE key GLOB ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY key
	`, pattern, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return keys, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM usage_kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Sweep deletes expired rows.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	result, err := s.sweepStmt.ExecContext(ctx, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.incrStmt, s.getStmt, s.setStmt, s.sweepStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}
