package zsql

import (
	"context"
	"fmt"

	"zgo.at/zsql/drivers"
)

// Pipeline hands out connection leases, taking the ambient transaction and
// scope on the context in to account.
type Pipeline struct {
	factory Factory
}

// NewPipeline creates a new pipeline which creates connections with f.
func NewPipeline(f Factory) *Pipeline {
	return &Pipeline{factory: f}
}

// Get a lease for the connection string.
//
// Without a transaction on the context this is a new physical connection (or
// the scope's connection, if there is a scope). Inside a transaction all
// leases for the same connection string share one physical connection, which
// is opened here and closed when the transaction completes.
func (p *Pipeline) Get(ctx context.Context, connect string) (*Lease, error) {
	var (
		t = GetTransaction(ctx)
		s = GetScope(ctx)
	)
	if t == nil {
		if s != nil {
			c, err := s.conn(connect, p.factory)
			if err != nil {
				return nil, fmt.Errorf("zsql.Pipeline.Get: %w", err)
			}
			return &Lease{conn: c, scoped: true}, nil
		}
		c, err := p.factory.Create(connect)
		if err != nil {
			return nil, fmt.Errorf("zsql.Pipeline.Get: %w", err)
		}
		return &Lease{conn: c}, nil
	}

	if t.Done() {
		return nil, fmt.Errorf("zsql.Pipeline.Get: %w", ErrTransactionDone)
	}
	txc, err := t.conn(ctx, connect, func() (Conn, bool, error) {
		if s != nil {
			c, err := s.conn(connect, p.factory)
			return c, true, err
		}
		c, err := p.factory.Create(connect)
		return c, false, err
	})
	if err != nil {
		return nil, fmt.Errorf("zsql.Pipeline.Get: %w", err)
	}
	return &Lease{conn: txc.conn, txc: txc}, nil
}

// CreateBulkCopy gets a bulk copy provider for the lease; engine is the name
// or dialect of a registered driver.
//
// If the lease is in a transaction the copy will be run in that transaction.
func (p *Pipeline) CreateBulkCopy(ctx context.Context, lease *Lease, engine string) (drivers.BulkCopy, error) {
	d, ok := drivers.Lookup(engine)
	if !ok {
		return nil, fmt.Errorf("zsql.Pipeline.CreateBulkCopy: no driver for %q", engine)
	}
	if lease.InTransaction() {
		if _, err := lease.Tx(ctx); err != nil {
			return nil, fmt.Errorf("zsql.Pipeline.CreateBulkCopy: %w", err)
		}
	}
	return d.BulkCopy(lease), nil
}
