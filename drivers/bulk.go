package drivers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"zgo.at/zsql/internal/bind"
)

// Table is an in-memory table to write with BulkCopy.
type Table struct {
	Name    string // Optionally qualified with a schema: "schema.table".
	Columns []string
	Rows    [][]any
}

// Validate the table.
func (t *Table) Validate() error {
	if t == nil || t.Name == "" {
		return errors.New("bulk copy without a table name")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("bulk copy to %q without columns", t.Name)
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("bulk copy to %q: row %d has %d values for %d columns",
				t.Name, i, len(r), len(t.Columns))
		}
	}
	return nil
}

// BulkCopy writes many rows to the server, in whatever way is fastest for the
// database.
type BulkCopy interface {
	// SetTimeout sets the timeout for the entire copy; 0 means no timeout.
	SetTimeout(time.Duration)

	WriteToServer(context.Context, *Table) error
}

// Session is a connection that a BulkCopy can write to.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	// Tx gets the transaction the session runs in, starting it if needed. It's
	// nil if the session isn't in a transaction.
	Tx(ctx context.Context) (*sql.Tx, error)

	// Raw runs f with the underlying driver connection.
	Raw(f func(driverConn any) error) error
}

// WithTimeout is like context.WithTimeout, but 0 means no timeout.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d == 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// QuoteIdentifier quotes an identifier, which may be qualified as
// schema.table.
func QuoteIdentifier(name string, quote byte) string {
	parts := strings.Split(name, ".")
	q := string(quote)
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// InsertCopy is a BulkCopy which inserts as many rows as possible per insert
// statement, for databases which don't have a faster way.
//
// Placeholders are in the style of the SQL driver sqlDriver.
type InsertCopy struct {
	s       Session
	style   bind.Style
	quote   byte
	limit   int
	timeout time.Duration
}

// NewInsertCopy creates a new InsertCopy; maxParams is the maximum number of
// parameters per statement.
func NewInsertCopy(s Session, sqlDriver string, quote byte, maxParams int) *InsertCopy {
	return &InsertCopy{s: s, style: bind.Placeholder(sqlDriver), quote: quote, limit: maxParams}
}

func (c *InsertCopy) SetTimeout(d time.Duration) { c.timeout = d }

func (c *InsertCopy) WriteToServer(ctx context.Context, t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, cancel := WithTimeout(ctx, c.timeout)
	defer cancel()

	perStmt := c.limit/len(t.Columns) - 1
	if perStmt < 1 {
		perStmt = 1
	}
	b := newInsertBuilder(QuoteIdentifier(t.Name, c.quote), t.Columns, c.quote)
	for i := 0; i < len(t.Rows); i += perStmt {
		end := min(i+perStmt, len(t.Rows))
		query, params := b.SQL(t.Rows[i:end])
		if _, err := c.s.ExecContext(ctx, bind.Rebind(c.style, query), params...); err != nil {
			return fmt.Errorf("InsertCopy.WriteToServer: %w", err)
		}
	}
	return nil
}

type insertBuilder struct {
	prefix string
	ncols  int
}

func newInsertBuilder(table string, cols []string, quote byte) insertBuilder {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = QuoteIdentifier(c, quote)
	}
	return insertBuilder{
		prefix: "insert into " + table + " (" + strings.Join(q, ",") + ") values ",
		ncols:  len(cols),
	}
}

func (b insertBuilder) SQL(rows [][]any) (string, []any) {
	var (
		s      strings.Builder
		params = make([]any, 0, len(rows)*b.ncols)
	)
	s.WriteString(b.prefix)
	for i, r := range rows {
		if i > 0 {
			s.WriteByte(',')
		}
		s.WriteByte('(')
		for j := range r {
			if j > 0 {
				s.WriteByte(',')
			}
			s.WriteByte('?')
		}
		s.WriteByte(')')
		params = append(params, r...)
	}
	return s.String(), params
}
