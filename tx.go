package zsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Transaction is an ambient transaction carried on a context.
//
// It's not bound to a single connection: every connection string that is used
// while the transaction is on the context gets its own physical connection and
// *sql.Tx, which are all committed or rolled back together. The *sql.Tx is only
// started with the first statement.
type Transaction struct {
	ctx   context.Context
	opts  *sql.TxOptions
	done  atomic.Bool
	conns sync.Map // connect string → *txConn

	mu         sync.Mutex // Protects conns check-then-insert and onComplete.
	onComplete []func(committed bool)
}

type txConn struct {
	t       *Transaction
	connect string
	conn    Conn
	scoped  bool
	sem     *semaphore.Weighted
	tx      atomic.Pointer[sql.Tx]
}

type beginOpt func(*sql.TxOptions)

// BeginOpt is an option for Begin and TX.
type BeginOpt = beginOpt

// TxReadOnly sets this transaction as read-only.
func TxReadOnly() beginOpt { return func(o *sql.TxOptions) { o.ReadOnly = true } }

// TxIsolation sets the isolation level for this transaction.
func TxIsolation(level sql.IsolationLevel) beginOpt {
	return func(o *sql.TxOptions) { o.Isolation = level }
}

var ctxTx = &struct{ n string }{"zsql.tx"}

// GetTransaction gets the ambient transaction from the context, or nil if
// there is none.
func GetTransaction(ctx context.Context) *Transaction {
	t, _ := ctx.Value(ctxTx).(*Transaction)
	return t
}

// Begin a new transaction.
//
// The returned context is a copy of the original with the transaction set. The
// same transaction is also returned directly.
//
// Nested transactions return the original transaction together with
// ErrTransactionStarted (which is not a fatal error).
func Begin(ctx context.Context, opts ...beginOpt) (context.Context, *Transaction, error) {
	// Could use savepoints, but that's probably more confusing than anything
	// else: almost all of the time you want the outermost transaction to be
	// completed in full or not at all.
	if t := GetTransaction(ctx); t != nil && !t.done.Load() {
		return ctx, t, ErrTransactionStarted
	}

	txOpts := new(sql.TxOptions)
	for _, o := range opts {
		o(txOpts)
	}
	t := &Transaction{ctx: ctx, opts: txOpts}
	return context.WithValue(ctx, ctxTx, t), t, nil
}

// TX runs the given function in a transaction.
//
// The context passed to the callback has the transaction set. The transaction
// is committed if the fn returns nil, or will be rolled back if it's not.
//
// Multiple TX() calls can be nested, but they all run the same transaction and
// are comitted only if the outermost transaction returns true.
//
// This is just a more convenient wrapper for Begin().
func TX(ctx context.Context, fn func(context.Context) error, opts ...beginOpt) error {
	txctx, t, err := Begin(ctx, opts...)
	if err == ErrTransactionStarted {
		err := fn(txctx)
		if err != nil {
			return fmt.Errorf("zsql.TX fn: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("zsql.TX: %w", err)
	}

	defer t.Rollback()

	err = fn(txctx)
	if err != nil {
		return fmt.Errorf("zsql.TX fn: %w", err)
	}

	err = t.Commit()
	if err != nil {
		return fmt.Errorf("zsql.TX commit: %w", err)
	}
	return nil
}

// Done reports if the transaction was committed or rolled back.
func (t *Transaction) Done() bool { return t.done.Load() }

// OnComplete adds a function to run after the transaction is committed or
// rolled back.
func (t *Transaction) OnComplete(f func(committed bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = append(t.onComplete, f)
}

// Commit all connections in this transaction.
func (t *Transaction) Commit() error { return t.complete(true) }

// Rollback all connections in this transaction. This is a no-op if the
// transaction was already committed.
func (t *Transaction) Rollback() error {
	err := t.complete(false)
	if errors.Is(err, ErrTransactionDone) {
		return nil
	}
	return err
}

func (t *Transaction) complete(commit bool) error {
	if !t.done.CompareAndSwap(false, true) {
		return ErrTransactionDone
	}

	var errs []error
	t.conns.Range(func(_, v any) bool {
		c := v.(*txConn)
		// Wait for a begin that may be running.
		if err := c.sem.Acquire(context.Background(), 1); err == nil {
			c.sem.Release(1)
		}
		tx := c.tx.Load()
		if tx == nil {
			return true
		}
		var err error
		if commit {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("%s: %w", c.connect, err))
		}
		return true
	})

	t.mu.Lock()
	cb := t.onComplete
	t.onComplete = nil
	t.mu.Unlock()

	committed := commit && len(errs) == 0
	for _, f := range cb {
		f(committed)
	}

	if err := errors.Join(errs...); err != nil {
		if commit {
			return fmt.Errorf("zsql.Transaction.Commit: %w", err)
		}
		return fmt.Errorf("zsql.Transaction.Rollback: %w", err)
	}
	return nil
}

// conn gets the connection for the connection string, creating it with
// create() if this is the first use.
func (t *Transaction) conn(ctx context.Context, connect string, create func() (Conn, bool, error)) (*txConn, error) {
	if c, ok := t.conns.Load(connect); ok {
		return c.(*txConn), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns.Load(connect); ok {
		return c.(*txConn), nil
	}
	if t.done.Load() {
		return nil, ErrTransactionDone
	}

	conn, scoped, err := create()
	if err != nil {
		return nil, err
	}
	if err := waitConnecting(ctx, conn); err != nil {
		return nil, err
	}
	if conn.State() != StateOpen {
		if err := conn.Open(ctx); err != nil {
			if !scoped {
				conn.Close()
			}
			return nil, err
		}
	}

	c := &txConn{t: t, connect: connect, conn: conn, scoped: scoped, sem: semaphore.NewWeighted(1)}
	t.conns.Store(connect, c)
	t.onComplete = append(t.onComplete, func(bool) {
		t.conns.Delete(connect)
		if !c.scoped {
			c.conn.Close()
		}
	})
	return c, nil
}

// begin the transaction on this connection, if it's not started yet.
func (c *txConn) begin(ctx context.Context) (*sql.Tx, error) {
	if tx := c.tx.Load(); tx != nil {
		return tx, nil
	}
	if c.t.done.Load() {
		return nil, ErrTransactionDone
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	if tx := c.tx.Load(); tx != nil {
		return tx, nil
	}
	if c.t.done.Load() {
		return nil, ErrTransactionDone
	}

	// The transaction lives as long as the context Begin() was called with,
	// not the context of the statement that happens to start it.
	tx, err := c.conn.BeginTx(c.t.ctx, c.t.opts)
	if err != nil {
		return nil, fmt.Errorf("zsql.Begin: %w", err)
	}
	c.tx.Store(tx)
	return tx, nil
}

// Scope keeps one physical connection per connection string for its lifetime,
// which is useful for things that are bound to a session, such as temporary
// tables.
type Scope struct {
	mu     sync.Mutex
	conns  map[string]Conn
	closed bool
}

var ctxScope = &struct{ n string }{"zsql.scope"}

// WithScope returns a copy of the context with a new Scope; if there already
// is a scope on the context then that is returned.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	if s := GetScope(ctx); s != nil {
		return ctx, s
	}
	s := &Scope{conns: make(map[string]Conn)}
	return context.WithValue(ctx, ctxScope, s), s
}

// GetScope gets the Scope from the context, or nil if there is none.
func GetScope(ctx context.Context) *Scope {
	s, _ := ctx.Value(ctxScope).(*Scope)
	if s != nil && s.isClosed() {
		return nil
	}
	return s
}

func (s *Scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scope) conn(connect string, f Factory) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrConnClosed
	}
	if c, ok := s.conns[connect]; ok {
		return c, nil
	}
	c, err := f.Create(connect)
	if err != nil {
		return nil, err
	}
	s.conns[connect] = c
	return c, nil
}

// Close all connections in this scope.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, c := range s.conns {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
