package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure Go SQLite driver ("sqlite")
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// SQLiteStore implements Store on a single SQLite table.
//
// The database runs in WAL mode with a single open connection; a background
// goroutine checkpoints the WAL periodically. When MaxBytes is set the
// capacity check and the write run in one transaction, so concurrent writers
// cannot overshoot it.
type SQLiteStore struct {
	db                 *sql.DB
	path               string
	maxBytes           int64
	checkpointInterval time.Duration
	done               chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.RWMutex
	closeOnce          sync.Once

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	keysStmt   *sql.Stmt
	rangeStmt  *sql.Stmt
	usageStmt  *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// Driver selects the database/sql driver: "sqlite" (default) or "sqlite3".
	Driver string

	// MaxBytes caps the accounted size of all entries. Zero means unlimited.
	MaxBytes int64

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		path:               cfg.Path,
		maxBytes:           cfg.MaxBytes,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := s.configure(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		s.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.wg.Add(1)
	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteStore) configure(busyTimeout time.Duration) error {
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if s.path != ":memory:" {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		size INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`SELECT value FROM kv_entries WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.setStmt, err = s.db.Prepare(`
		INSERT INTO kv_entries (key, value, size, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM kv_entries WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.keysStmt, err = s.db.Prepare(`SELECT key FROM kv_entries`)
	if err != nil {
		return fmt.Errorf("failed to prepare keys statement: %w", err)
	}

	s.rangeStmt, err = s.db.Prepare(`SELECT key, value FROM kv_entries ORDER BY key`)
	if err != nil {
		return fmt.Errorf("failed to prepare range statement: %w", err)
	}

	// size excluding the row being replaced
	s.usageStmt, err = s.db.Prepare(`SELECT COALESCE(SUM(size), 0) FROM kv_entries WHERE key <> ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage statement: %w", err)
	}

	return nil
}

// Get returns the value for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return "", false, ErrClosed
	}

	var value string
	err := s.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}

	return value, true, nil
}

// Set writes value under key, enforcing MaxBytes when configured.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	size := EntrySize(key, value)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.maxBytes > 0 {
		var used int64
		if err := tx.StmtContext(ctx, s.usageStmt).QueryRowContext(ctx, key).Scan(&used); err != nil {
			return fmt.Errorf("failed to compute usage: %w", err)
		}
		if used+size > s.maxBytes {
			return ErrQuotaExceeded
		}
	}

	if _, err := tx.StmtContext(ctx, s.setStmt).ExecContext(ctx, key, value, size, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys returns every key.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return nil, ErrClosed
	}

	rows, err := s.keysStmt.QueryContext(ctx)
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

// Range iterates over the entries in key order. The rows are read fully
// before fn is called, so fn may modify the store.
func (s *SQLiteStore) Range(ctx context.Context, fn func(key, value string) bool) error {
	type entry struct{ key, value string }

	s.mu.RLock()
	if s.isClosed() {
		s.mu.RUnlock()
		return ErrClosed
	}
	rows, err := s.rangeStmt.QueryContext(ctx)
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("failed to range entries: %w", err)
	}

	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	for _, e := range entries {
		if !fn(e.key, e.value) {
			return nil
		}
	}
	return nil
}

// Used returns the accounted size of all entries.
func (s *SQLiteStore) Used(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return 0, ErrClosed
	}

	var used int64
	if err := s.usageStmt.QueryRowContext(ctx, "").Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to compute usage: %w", err)
	}
	return used, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Capacity returns MaxBytes, or zero for unlimited.
func (s *SQLiteStore) Capacity() int64 {
	return s.maxBytes
}

// Close stops the checkpoint loop and closes the database.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()

		s.closeStatements()

		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

func (s *SQLiteStore) closeStatements() {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.setStmt, s.deleteStmt, s.keysStmt, s.rangeStmt, s.usageStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (s *SQLiteStore) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
