package zsql

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"
)

// Lease is a logical connection handed out by the Pipeline.
//
// Outside a transaction or scope Open and Close operate on the physical
// connection. Inside a transaction all leases share one physical connection
// (per connection string), and Open and Close only change the state of the
// lease; statements run in the transaction, which is started with the first
// statement.
type Lease struct {
	conn   Conn
	txc    *txConn // nil if not in a transaction.
	scoped bool    // Physical connection is owned by a Scope.
	state  atomic.Int32
}

// How long to wait for a connection to finish connecting.
var (
	connectingPoll = 5 * time.Millisecond
	connectingWait = 5 * time.Second
)

// waitConnecting waits until c isn't in StateConnecting.
func waitConnecting(ctx context.Context, c Conn) error {
	if c.State() != StateConnecting {
		return nil
	}
	t := time.NewTicker(connectingPoll)
	defer t.Stop()
	deadline := time.Now().Add(connectingWait)
	for c.State() == StateConnecting {
		if time.Now().After(deadline) {
			return ErrConnConnecting
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (l *Lease) logical() bool { return l.txc != nil || l.scoped }

// InTransaction reports if this lease is part of a transaction.
func (l *Lease) InTransaction() bool { return l.txc != nil }

// Physical gets the physical connection.
func (l *Lease) Physical() Conn { return l.conn }

// Open the lease.
func (l *Lease) Open(ctx context.Context) error {
	if err := waitConnecting(ctx, l.conn); err != nil {
		return err
	}
	if l.txc != nil && l.txc.t.done.Load() {
		return ErrTransactionDone
	}
	if l.conn.State() != StateOpen {
		if err := l.conn.Open(ctx); err != nil {
			return err
		}
	}
	l.state.Store(int32(StateOpen))
	return nil
}

// Close the lease.
func (l *Lease) Close() error {
	if l.logical() {
		l.state.Store(int32(StateClosed))
		return nil
	}
	return l.conn.Close()
}

// State gets the lease's state.
func (l *Lease) State() State {
	if l.logical() {
		if l.txc != nil && l.txc.t.done.Load() {
			return StateClosed
		}
		return State(l.state.Load())
	}
	return l.conn.State()
}

// Tx gets the transaction for this lease, starting it if needed. It returns
// nil if this lease isn't in a transaction.
func (l *Lease) Tx(ctx context.Context) (*sql.Tx, error) {
	if l.txc == nil {
		return nil, nil
	}
	return l.txc.begin(ctx)
}

// BeginTx starts a new transaction on the physical connection; this is an
// error for leases that are already in a transaction.
func (l *Lease) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if l.txc != nil {
		return nil, ErrTransactionStarted
	}
	return l.conn.BeginTx(ctx, opts)
}

func (l *Lease) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := l.Tx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return l.conn.ExecContext(ctx, query, args...)
}

func (l *Lease) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := l.Tx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return l.conn.QueryContext(ctx, query, args...)
}

func (l *Lease) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	tx, err := l.Tx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.PrepareContext(ctx, query)
	}
	return l.conn.PrepareContext(ctx, query)
}

// Raw runs f with the driver connection.
func (l *Lease) Raw(f func(driverConn any) error) error { return l.conn.Raw(f) }
