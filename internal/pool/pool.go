// Package pool bounds the number of concurrently leased database
// connections shared by every store. Admission is a counting semaphore with
// a deadline; callers block until a slot frees or the timeout elapses.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"provreg.org/internal/obs"
)

// DefaultTimeout bounds how long Acquire waits for admission.
const DefaultTimeout = 60 * time.Second

var (
	// ErrExhausted reports that the admission timeout elapsed with every
	// slot still taken.
	ErrExhausted = errors.New("connection pool exhausted")
	// ErrConnect reports that a slot was granted but the driver failed to
	// hand out a connection.
	ErrConnect = errors.New("connection failure")
)

// Manager is a bounded lease dispenser over a *sql.DB. The wrapped DB's own
// pooling stays enabled underneath; Manager adds the hard admission bound
// and deterministic release the stores rely on.
type Manager struct {
	db      *sql.DB
	sem     *semaphore.Weighted
	timeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the default admission timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager builds a Manager admitting at most maxConns concurrent leases.
func NewManager(db *sql.DB, maxConns int, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("pool: db is required")
	}
	if maxConns < 1 {
		return nil, fmt.Errorf("pool: maxConns must be positive, got %d", maxConns)
	}
	m := &Manager{
		db:      db,
		sem:     semaphore.NewWeighted(int64(maxConns)),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	db.SetMaxOpenConns(maxConns)
	return m, nil
}

// Timeout returns the configured admission timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Acquire blocks until a slot frees, then checks a dedicated connection out
// of the underlying pool. The returned lease is exclusively owned by the
// caller until released; it must never be shared across concurrent
// operations. Every successful Acquire must be matched by exactly one
// Release on every code path.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()
	admit, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.sem.Acquire(admit, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		obs.PoolExhausted(time.Since(start))
		return nil, fmt.Errorf("%w: no slot freed within %s", ErrExhausted, m.timeout)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		m.sem.Release(1)
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	obs.PoolAcquired(time.Since(start))
	return &Lease{mgr: m, conn: conn}, nil
}

// Exec acquires a connection, runs a single statement and releases the
// connection on every path.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	_, err = lease.Conn().ExecContext(ctx, query, args...)
	return err
}

// Lease is one checked-out connection. Zero-value and nil leases release as
// no-ops.
type Lease struct {
	mgr  *Manager
	conn *sql.Conn
	once sync.Once
}

// Conn returns the leased connection.
func (l *Lease) Conn() *sql.Conn { return l.conn }

// BeginTx starts an explicit transaction on the leased connection.
func (l *Lease) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return l.conn.BeginTx(ctx, nil)
}

// Release closes the connection if still open and returns the slot.
// Safe to call more than once; the slot is returned exactly once.
func (l *Lease) Release() {
	if l == nil || l.mgr == nil {
		return
	}
	l.once.Do(func() {
		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.mgr.sem.Release(1)
		obs.PoolReleased()
	})
}
