package zsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"zgo.at/zsql/drivers"
)

// State of a connection.
type State int32

// Connection states.
const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Conn is a physical connection to a database.
type Conn interface {
	Open(context.Context) error
	Close() error
	State() State

	BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Raw(func(driverConn any) error) error
}

// Factory creates physical connections.
type Factory interface {
	// Create a new connection; the connection isn't opened yet.
	Create(connect string) (Conn, error)
}

// DBFactory is a Factory which keeps a *sql.DB pool for every connection
// string, and hands out *sql.Conn connections from it.
type DBFactory struct {
	create bool
	mu     sync.Mutex
	pools  map[string]*pool
}

type pool struct {
	once sync.Once
	db   *sql.DB
	err  error
}

// NewDBFactory creates a new DBFactory; if create is set databases are created
// if they don't exist.
func NewDBFactory(create bool) *DBFactory {
	return &DBFactory{create: create, pools: make(map[string]*pool)}
}

// Create a new connection.
func (f *DBFactory) Create(connect string) (Conn, error) {
	if _, _, err := drivers.Find(connect); err != nil {
		return nil, fmt.Errorf("zsql.DBFactory.Create: %w", err)
	}
	return &sqlConn{f: f, connect: connect}, nil
}

// Add an already opened database for the connection string.
func (f *DBFactory) Add(connect string, db *sql.DB) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &pool{db: db}
	p.once.Do(func() {})
	f.pools[connect] = p
}

// DB gets the pool for the connection string, connecting if needed.
func (f *DBFactory) DB(ctx context.Context, connect string) (*sql.DB, error) {
	f.mu.Lock()
	p, ok := f.pools[connect]
	if !ok {
		p = new(pool)
		f.pools[connect] = p
	}
	f.mu.Unlock()

	p.once.Do(func() {
		d, c, err := drivers.Find(connect)
		if err != nil {
			p.err = err
			return
		}
		p.db, _, p.err = d.Connect(ctx, c, f.create)
	})
	if p.err != nil {
		f.mu.Lock()
		delete(f.pools, connect) // Allow retry.
		f.mu.Unlock()
	}
	return p.db, p.err
}

// Close all pools.
func (f *DBFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for k, p := range f.pools {
		if p.db != nil {
			errs = append(errs, p.db.Close())
		}
		delete(f.pools, k)
	}
	return errors.Join(errs...)
}

// sqlConn is a Conn backed by a *sql.Conn.
type sqlConn struct {
	f       *DBFactory
	connect string
	state   atomic.Int32
	mu      sync.Mutex
	conn    *sql.Conn
}

func (c *sqlConn) State() State { return State(c.state.Load()) }

func (c *sqlConn) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	c.state.Store(int32(StateConnecting))
	db, err := c.f.DB(ctx, c.connect)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return err
	}
	c.conn = conn
	c.state.Store(int32(StateOpen))
	return nil
}

func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state.Store(int32(StateClosed))
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

func (c *sqlConn) get() (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrConnClosed
	}
	return c.conn, nil
}

func (c *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	conn, err := c.get()
	if err != nil {
		return nil, err
	}
	return conn.BeginTx(ctx, opts)
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.get()
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := c.get()
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

func (c *sqlConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	conn, err := c.get()
	if err != nil {
		return nil, err
	}
	return conn.PrepareContext(ctx, query)
}

func (c *sqlConn) Raw(f func(driverConn any) error) error {
	conn, err := c.get()
	if err != nil {
		return err
	}
	return conn.Raw(f)
}
