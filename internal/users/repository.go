// Package users reads the users table of the application database.
//
// The connection string comes from the settings store override when one is
// set, otherwise from configuration. The pool is opened lazily and reopened
// when the resolved DSN changes.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/logging"
	"github.com/iapropria/iapropria/internal/settings"
)

// ErrNoDatabase indicates neither the settings store nor configuration
// provides a DSN.
var ErrNoDatabase = errors.New("users database not configured")

const listQuery = `SELECT * FROM users`

// Repository lists rows of the users table.
type Repository struct {
	store      *settings.Store
	defaultDSN string
	maxConns   int32
	logger     *logging.Logger

	// closePool is replaced in tests.
	closePool func(*pgxpool.Pool)

	mu      sync.Mutex
	current *poolLease
}

// poolLease counts the List calls using a pool. A retired pool is closed
// once the last of them returns, so a DSN change never cuts off a query in
// flight.
type poolLease struct {
	pool    *pgxpool.Pool
	dsn     string
	refs    int
	retired bool
}

// NewRepository creates a repository. store may be nil.
func NewRepository(store *settings.Store, cfg config.DatabaseConfig, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{
		store:      store,
		defaultDSN: cfg.DSN.Value(),
		maxConns:   cfg.MaxConns,
		logger:     logger.Named("users"),
		closePool:  (*pgxpool.Pool).Close,
	}
}

// DSN returns the connection string in effect.
func (r *Repository) DSN() (string, error) {
	if r.store != nil {
		if dsn, ok := r.store.DBOverride(); ok {
			return dsn, nil
		}
	}
	if r.defaultDSN == "" {
		return "", ErrNoDatabase
	}
	return r.defaultDSN, nil
}

// List returns every row of the users table as column name to value.
func (r *Repository) List(ctx context.Context) ([]map[string]any, error) {
	pool, release, err := r.acquirePool(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := pool.Query(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	for _, row := range out {
		for k, v := range row {
			row[k] = jsonValue(v)
		}
	}
	r.logger.Debug(ctx, "listed users", zap.Int("count", len(out)))
	return out, nil
}

// Close retires the pool. It is closed immediately when idle, otherwise
// when the last in-flight List returns.
func (r *Repository) Close() {
	r.mu.Lock()
	idle := r.retireLocked()
	r.mu.Unlock()
	if idle != nil {
		r.closePool(idle)
	}
}

// acquirePool returns the pool for the current DSN and a release func that
// must be called once the caller is done with it.
func (r *Repository) acquirePool(ctx context.Context) (*pgxpool.Pool, func(), error) {
	dsn, err := r.DSN()
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	if r.current == nil || r.current.dsn != dsn {
		pool, err := r.openPool(ctx, dsn)
		if err != nil {
			r.mu.Unlock()
			return nil, nil, err
		}
		if r.current != nil {
			r.logger.Info(ctx, "database dsn changed, pool reopened")
		}
		idle := r.retireLocked()
		r.current = &poolLease{pool: pool, dsn: dsn}
		if idle != nil {
			defer r.closePool(idle)
		}
	}
	lease := r.current
	lease.refs++
	r.mu.Unlock()

	var once sync.Once
	return lease.pool, func() { once.Do(func() { r.release(lease) }) }, nil
}

func (r *Repository) release(lease *poolLease) {
	r.mu.Lock()
	lease.refs--
	done := lease.retired && lease.refs == 0
	r.mu.Unlock()
	if done {
		r.closePool(lease.pool)
	}
}

// retireLocked detaches the current pool and returns it when nothing is
// using it, leaving the close to the caller outside the lock.
func (r *Repository) retireLocked() *pgxpool.Pool {
	lease := r.current
	if lease == nil {
		return nil
	}
	r.current = nil
	lease.retired = true
	if lease.refs == 0 {
		return lease.pool
	}
	return nil
}

func (r *Repository) openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		// the DSN may carry a password, keep it out of the message
		return nil, errors.New("parsing database dsn: invalid connection string")
	}
	if r.maxConns > 0 {
		cfg.MaxConns = r.maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	return pool, nil
}

// jsonValue converts driver values without a useful JSON form.
func jsonValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	}
	return v
}
