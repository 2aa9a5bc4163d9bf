// Package store wraps a single-process embedded SQL engine (SQLite via
// mattn/go-sqlite3) with the pragma tuning, prepared-statement cache, and
// transaction helper every higher-level component builds on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// OpenOptions mirrors spec.md §4.1's open(path, {readonly, inMemory, timeout}).
type OpenOptions struct {
	ReadOnly    bool
	InMemory    bool
	BusyTimeout time.Duration
}

// StatementStats tracks per-statement call count and total time for
// statements run through Store.Exec; Store.AvgQueryTimeMs reports their mean.
type StatementStats struct {
	Calls    int64
	TotalNs  int64
}

// AvgMs returns the mean duration of calls recorded so far, in milliseconds.
func (s *StatementStats) AvgMs() float64 {
	calls := atomic.LoadInt64(&s.Calls)
	if calls == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.TotalNs)) / float64(calls) / 1e6
}

// Store is the embedded relational store (C1).
type Store struct {
	db   *sqlx.DB
	path string
	opts OpenOptions

	mu         sync.RWMutex
	statements map[string]*sqlx.Stmt
	stats      map[string]*StatementStats

	logger observability.Logger
}

// Open opens path with the pragma configuration specified by spec.md §4.1.
// Read-only and in-memory connections skip pragmas that require write access.
func Open(ctx context.Context, path string, opts OpenOptions, logger observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	dsn := path
	if opts.InMemory {
		dsn = "file::memory:?cache=shared"
	}

	mode := "rwc"
	if opts.ReadOnly {
		mode = "ro"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%smode=%s&_busy_timeout=%d&_foreign_keys=on", dsn, sep, mode, opts.BusyTimeout.Milliseconds())

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		logger.Error("failed to open store", map[string]interface{}{"path": path, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", cgerrors.ErrStoreUnavailable, err)
	}

	s := &Store{
		db:         db,
		path:       path,
		opts:       opts,
		statements: make(map[string]*sqlx.Stmt),
		stats:      make(map[string]*StatementStats),
		logger:     logger,
	}

	if !opts.ReadOnly && !opts.InMemory {
		if err := s.applyWritablePragmas(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("store opened", map[string]interface{}{"path": path, "readOnly": opts.ReadOnly, "inMemory": opts.InMemory})
	return s, nil
}

// applyWritablePragmas configures WAL, mmap, and cache tuning as specified.
func (s *Store) applyWritablePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 30000000000",
		"PRAGMA page_size = 4096",
		"PRAGMA wal_autocheckpoint = 1000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%w: pragma %q: %v", cgerrors.ErrIntegrity, p, err)
		}
	}
	return nil
}

// Pragma reads or sets a single pragma, matching spec.md's pragma(name[, value]).
func (s *Store) Pragma(ctx context.Context, name string, value string) (string, error) {
	stmt := fmt.Sprintf("PRAGMA %s", name)
	if value != "" {
		stmt = fmt.Sprintf("PRAGMA %s = %s", name, value)
	}
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()
	var out string
	if rows.Next() {
		_ = rows.Scan(&out)
	}
	return out, rows.Err()
}

// LoadExtension loads a SQLite extension (e.g. sqlite-vec) by path. Requires
// the mattn/go-sqlite3 driver's extension support; on failure callers fall
// back to the vector store's linear-scan mode.
func (s *Store) LoadExtension(ctx context.Context, path string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return conn.Raw(func(driverConn interface{}) error {
		type extensionLoader interface {
			LoadExtension(string, string) error
		}
		if loader, ok := driverConn.(extensionLoader); ok {
			return loader.LoadExtension(path, "")
		}
		return fmt.Errorf("driver connection does not support extension loading")
	})
}

// DB exposes the underlying *sqlx.DB for packages that need raw scanning.
func (s *Store) DB() *sqlx.DB { return s.db }

// Exec runs a statement without returning rows, tracking statement timings.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	s.recordStat(query, time.Since(start))
	return res, err
}

// Transaction runs fn inside a committed transaction, rolling back on panic
// or error and re-panicking after rollback, matching the teacher's
// Transaction helper.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

func (s *Store) recordStat(query string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[query]
	if !ok {
		st = &StatementStats{}
		s.stats[query] = st
	}
	atomic.AddInt64(&st.Calls, 1)
	atomic.AddInt64(&st.TotalNs, d.Nanoseconds())
}

// AvgQueryTimeMs returns the mean duration across every tracked statement.
func (s *Store) AvgQueryTimeMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.stats) == 0 {
		return 0
	}
	var total float64
	for _, st := range s.stats {
		total += st.AvgMs()
	}
	return total / float64(len(s.stats))
}

// Close closes the store and any prepared statements held against it.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.statements {
		_ = stmt.Close()
	}
	s.mu.Unlock()
	return s.db.Close()
}
