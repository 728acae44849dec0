package kvindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/giantswarm/labrunner/internal/sentinel"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed Store.
const ErrClosed = sentinel.Error("index store is closed")

// DefaultBusyTimeout is how long a statement waits on a lock held by another
// connection or process before failing.
const DefaultBusyTimeout = 30 * time.Second

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. Its directory must exist.
	Path string
	// BusyTimeout overrides DefaultBusyTimeout when positive.
	BusyTimeout time.Duration
	// Now overrides the clock used for expiry; nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Store is a SQLite-backed key/value index. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	log    *slog.Logger
	closed atomic.Bool
}

// Open opens (creating if necessary) the database at cfg.Path, ensures the
// schema and purges expired rows.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("index path must not be empty")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	// WAL lets readers proceed while another process writes; the busy
	// timeout covers writer contention between controller processes.
	dsn := url.URL{
		Scheme: "file",
		Path:   cfg.Path,
		RawQuery: fmt.Sprintf(
			"_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			busy.Milliseconds(),
		),
	}
	db, err := sql.Open("sqlite", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, now: cfg.Now, log: cfg.logger()}
	if s.now == nil {
		s.now = time.Now
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		s.closeQuietly()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	purged, err := s.Purge(ctx)
	if err != nil {
		s.closeQuietly()
		return nil, err
	}
	if purged > 0 {
		s.log.Debug("purged expired index entries", "count", purged)
	}

	return s, nil
}

// Get returns the value stored under key. The boolean is false when the key
// is absent or its entry has expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, wrapErr("get", key, err)
	}

	if s.now().UnixNano() >= expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous entry, with an expiry
// ttl from now. ttl must be positive.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		return fmt.Errorf("set %s: ttl must be positive, got %s", key, ttl)
	}
	expiresAt := s.now().Add(ttl).UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return wrapErr("set", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return wrapErr("delete", key, err)
	}
	return nil
}

// Purge deletes all expired rows and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, wrapErr("purge", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return wrapErr("ping", "", err)
	}
	return nil
}

// Close closes the underlying database. Subsequent operations return
// ErrClosed. Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

func (s *Store) closeQuietly() {
	if err := s.db.Close(); err != nil {
		s.log.Warn("close sqlite after failed open", "error", err)
	}
}

// wrapErr annotates err with the operation and key.
func wrapErr(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
