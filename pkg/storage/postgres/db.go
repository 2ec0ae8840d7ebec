package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/ptbhub/pkg/contextkeys"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Config holds connection pool settings
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DB wraps the connection pool and owns transaction scoping. Stores read the
// active transaction from the context so a handler can compose several store
// calls into one commit.
type DB struct {
	db     *sql.DB
	logger *observability.Logger
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an already opened pool
func New(db *sql.DB, logger *observability.Logger) *DB {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DB{db: db, logger: logger}
}

// SQL returns the underlying pool
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the pool
func (d *DB) Close() error {
	return d.db.Close()
}

// Tx is an open transaction with its post-commit hooks
type Tx struct {
	tx    *sql.Tx
	mu    sync.Mutex
	hooks []func(context.Context)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func txFrom(ctx context.Context) *Tx {
	tx, _ := contextkeys.GetTx(ctx).(*Tx)
	return tx
}

// q returns the transaction carried by ctx, or the pool
func (d *DB) q(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx.tx
	}
	return d.db
}

// WithTx runs fn inside a transaction. A nested call joins the outer
// transaction. Hooks registered with OnCommit run after the outermost commit,
// in registration order, and are discarded on rollback.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(contextkeys.WithTx(ctx, tx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			d.logger.WithError(rbErr).Warn("transaction rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	d.runHooks(context.WithoutCancel(ctx), tx)
	return nil
}

func (d *DB) runHooks(ctx context.Context, tx *Tx) {
	tx.mu.Lock()
	hooks := tx.hooks
	tx.hooks = nil
	tx.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer observability.RecoverPanic(d.logger, "post-commit hook")
			hook(ctx)
		}()
	}
}

// OnCommit defers fn until the transaction in ctx commits. Without a
// transaction the write is already durable and fn runs immediately.
func OnCommit(ctx context.Context, fn func(ctx context.Context)) {
	tx := txFrom(ctx)
	if tx == nil {
		fn(ctx)
		return
	}
	tx.mu.Lock()
	tx.hooks = append(tx.hooks, fn)
	tx.mu.Unlock()
}

// InTx reports whether ctx carries an open transaction
func InTx(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

// Ping checks connectivity
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...interface{}) error
}
