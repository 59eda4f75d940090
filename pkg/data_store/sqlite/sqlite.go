// Package sqlite provides the per-module relational store. Each module owns one
// Adapter backed by <var>/<module>.sqlite, opened lazily on first Connect.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var (
	ErrNotConnected = errors.New("persistence: not connected")
	ErrClosed       = errors.New("persistence: closed")
)

type Config struct {
	VarDir string
}

func NewConfig() (Config, error) {
	c := Config{
		VarDir: "var",
	}

	if dir := os.Getenv("DAYBREAK_VAR_DIR"); dir != "" {
		c.VarDir = dir
	}

	return c, nil
}

// Adapter owns a module's connection. Connect is idempotent; Close without a
// successful Connect is a no-op.
type Adapter struct {
	c      Config
	l      *zap.Logger
	module string

	mu     sync.Mutex
	handle *Handle
	closed bool
}

func (a *Adapter) Path() string {
	return filepath.Join(a.c.VarDir, a.module+".sqlite")
}

// Connect opens the store on first use and returns the same handle on every later call.
func (a *Adapter) Connect(ctx context.Context) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.handle != nil {
		return a.handle, nil
	}

	if err := os.MkdirAll(a.c.VarDir, 0755); err != nil {
		return nil, fmt.Errorf("persistence: create %s: %w", a.c.VarDir, err)
	}

	dsn := filepath.Clean(a.Path()) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", a.Path(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: ping %s: %w", a.Path(), err)
	}

	a.handle = &Handle{db: db}
	a.l.Debug("opened module database", zap.String("path", a.Path()))

	return a.handle, nil
}

// Handle returns the open handle, or ErrNotConnected.
func (a *Adapter) Handle() (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.handle == nil {
		return nil, ErrNotConnected
	}
	return a.handle, nil
}

// Close waits for in-flight cursors to finish and releases the connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil {
		return nil
	}

	err := a.handle.close()
	a.handle = nil
	a.closed = true
	if err != nil {
		return fmt.Errorf("persistence: close %s: %w", a.Path(), err)
	}

	a.l.Debug("closed module database", zap.String("path", a.Path()))
	return nil
}

func NewAdapter(c Config, l *zap.Logger, module string) *Adapter {
	return &Adapter{
		c:      c,
		l:      l.Named("sqlite").With(zap.String("module", module)),
		module: module,
	}
}

// Handle is a connected store. Writes go through Cursor.
type Handle struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Cursor runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise.
func (h *Handle) Cursor(ctx context.Context, fn func(*Cursor) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin: %w", err)
	}

	if err := fn(&Cursor{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("persistence: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit: %w", err)
	}
	return nil
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

// Cursor is a transaction scoped to a single Handle.Cursor call.
type Cursor struct {
	tx *sql.Tx
}

func (c *Cursor) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.tx.ExecContext(ctx, query, args...)
}

func (c *Cursor) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.tx.QueryRowContext(ctx, query, args...)
}

func (c *Cursor) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, query, args...)
}
