package zsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zgo.at/zsql/drivers"
)

// Table is an in-memory table to write with WriteToServer.
type Table = drivers.Table

// WriteToServer writes all rows in the table to the server, using the fastest
// method the driver has (e.g. COPY FROM for PostgreSQL).
//
// If there's a transaction on the context the rows are written in that
// transaction. The timeout applies to the entire copy; 0 means no timeout.
func (e *Engine) WriteToServer(ctx context.Context, table *Table, timeout time.Duration) error {
	if table == nil || table.Name == "" {
		return fmt.Errorf("zsql.WriteToServer: %w", ErrNoTable)
	}

	l, release, err := e.lease(ctx)
	if err != nil {
		return fmt.Errorf("zsql.WriteToServer: %w", err)
	}
	defer release()

	bc, err := e.pipe.CreateBulkCopy(ctx, l, e.driver.Name())
	if err != nil {
		return fmt.Errorf("zsql.WriteToServer: %w", err)
	}
	bc.SetTimeout(timeout)

	cmd := &Command{Text: "bulk copy " + table.Name, Timeout: timeout}
	e.log.log(cmd, fmt.Sprintf("-- bulk copy %d rows to %s", len(table.Rows), table.Name), nil)
	start := time.Now()
	err = bc.WriteToServer(ctx, table)
	e.record(start, cmd)
	if err != nil {
		return fmt.Errorf("zsql.WriteToServer: %w", err)
	}
	return nil
}

// BulkInsert collects rows and writes them with WriteToServer every time Limit
// rows are collected.
type BulkInsert struct {
	Limit   int
	Timeout time.Duration // Timeout for every write.

	ctx    context.Context
	e      *Engine
	table  Table
	errors []error
}

// NewBulkInsert makes a new BulkInsert.
func NewBulkInsert(ctx context.Context, e *Engine, table string, columns []string) BulkInsert {
	return BulkInsert{
		ctx:   ctx,
		e:     e,
		Limit: 10_000,
		table: Table{Name: table, Columns: columns, Rows: make([][]any, 0, 32)},
	}
}

// Values adds a set of values.
func (m *BulkInsert) Values(values ...any) {
	m.table.Rows = append(m.table.Rows, values)
	if len(m.table.Rows) >= m.Limit {
		m.write()
	}
}

// Finish the operation, returning any errors.
//
// This can be called more than once, in cases where you want to have some
// fine-grained control over when actual SQL is sent to the server.
func (m *BulkInsert) Finish() error {
	if len(m.table.Rows) > 0 {
		m.write()
	}
	if len(m.errors) == 0 {
		return nil
	}
	err := fmt.Errorf("zsql.BulkInsert: %d errors: %w", len(m.errors), errors.Join(m.errors...))
	m.errors = nil
	return err
}

func (m *BulkInsert) write() {
	if err := m.e.WriteToServer(m.ctx, &m.table, m.Timeout); err != nil {
		m.errors = append(m.errors, err)
	}
	m.table.Rows = make([][]any, 0, 32)
}
