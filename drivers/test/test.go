// Package test is a scripted database/sql driver for tests.
//
// Queries return the Response set with Script; all statements are recorded
// and can be inspected with Calls.
package test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"zgo.at/zsql/drivers"
	"zgo.at/zsql/internal/bind"
)

func init() {
	sql.Register("test", testSQLDriver{})
	bind.Register("test", bind.Dollar)
}

// Use registers the test driver as the only driver, returning a function to
// restore the previous drivers.
func Use() func() {
	save := drivers.Test()
	drivers.RegisterDriver(testDriver{})
	Reset()
	return save
}

// Result is a single result set.
type Result struct {
	Columns []string
	Types   []string // Database type names; optional.
	Rows    [][]driver.Value
}

// Response to a query.
type Response struct {
	Results  []Result
	Affected int64
	Err      error
	Delay    time.Duration // Wait this long, or until the context is cancelled.
}

// Call is a recorded statement.
type Call struct {
	Query string
	Args  []any
	InTx  bool
}

// Stats about the connections.
var Stats struct {
	Opens, Closes              atomic.Int64
	Begins, Commits, Rollbacks atomic.Int64
	RowsClosed                 atomic.Int64
}

var (
	mu        sync.Mutex
	responses = make(map[string]Response)
	calls     []Call
)

var reSpace = regexp.MustCompile(`\s+`)

func normalize(q string) string { return strings.TrimSpace(reSpace.ReplaceAllString(q, " ")) }

// Script sets the response for a query; whitespace is normalized.
func Script(query string, r Response) {
	mu.Lock()
	defer mu.Unlock()
	responses[normalize(query)] = r
}

// Calls gets all statements since the last Reset.
func Calls() []Call {
	mu.Lock()
	defer mu.Unlock()
	return append([]Call(nil), calls...)
}

// Reset all scripted responses, recorded calls, and stats.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	responses = make(map[string]Response)
	calls = nil
	Stats.Opens.Store(0)
	Stats.Closes.Store(0)
	Stats.Begins.Store(0)
	Stats.Commits.Store(0)
	Stats.Rollbacks.Store(0)
	Stats.RowsClosed.Store(0)
}

func respond(ctx context.Context, c *TestConn, query string, args []driver.NamedValue) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	mu.Lock()
	r := responses[normalize(query)]
	a := make([]any, len(args))
	for i := range args {
		a[i] = args[i].Value
	}
	calls = append(calls, Call{Query: normalize(query), Args: a, InTx: c.inTx})
	mu.Unlock()

	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-t.C:
		}
	}
	return r, r.Err
}

type (
	testDriver    struct{}
	testSQLDriver struct{}
	TestConn      struct{ inTx bool }
	TestStmt      struct {
		conn  *TestConn
		query string
	}
	TestTx     struct{ conn *TestConn }
	TestResult struct{ affected int64 }
	TestRows   struct {
		results []Result
		row     int
	}
)

func (testDriver) Name() string         { return "test" }
func (testDriver) Dialect() string      { return "postgresql" }
func (testDriver) ErrUnique(error) bool { return false }
func (testDriver) BulkCopy(s drivers.Session) drivers.BulkCopy {
	return drivers.NewInsertCopy(s, "test", '"', 1000)
}
func (testDriver) Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error) {
	db, err := sql.Open("test", connect)
	return db, true, err
}

func (testSQLDriver) Open(name string) (driver.Conn, error) {
	Stats.Opens.Add(1)
	return &TestConn{}, nil
}

func (c *TestConn) Prepare(query string) (driver.Stmt, error) {
	return &TestStmt{conn: c, query: query}, nil
}
func (c *TestConn) Close() error                         { Stats.Closes.Add(1); return nil }
func (c *TestConn) Begin() (driver.Tx, error)            { return c.BeginTx(context.Background(), driver.TxOptions{}) }
func (c *TestConn) CheckNamedValue(*driver.NamedValue) error { return nil }
func (c *TestConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.inTx {
		return nil, errors.New("test: already in a transaction")
	}
	Stats.Begins.Add(1)
	c.inTx = true
	return &TestTx{conn: c}, nil
}

func (s *TestStmt) Close() error  { return nil }
func (s *TestStmt) NumInput() int { return -1 }
func (s *TestStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}
func (s *TestStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}
func (s *TestStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	r, err := respond(ctx, s.conn, s.query, args)
	if err != nil {
		return nil, err
	}
	return TestResult{r.Affected}, nil
}
func (s *TestStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	r, err := respond(ctx, s.conn, s.query, args)
	if err != nil {
		return nil, err
	}
	if len(r.Results) == 0 {
		r.Results = []Result{{}}
	}
	return &TestRows{results: r.Results}, nil
}

func named(args []driver.Value) []driver.NamedValue {
	n := make([]driver.NamedValue, len(args))
	for i := range args {
		n[i] = driver.NamedValue{Ordinal: i + 1, Value: args[i]}
	}
	return n
}

func (t *TestTx) Commit() error {
	Stats.Commits.Add(1)
	t.conn.inTx = false
	return nil
}
func (t *TestTx) Rollback() error {
	Stats.Rollbacks.Add(1)
	t.conn.inTx = false
	return nil
}

func (r TestResult) LastInsertId() (int64, error) { return 0, nil }
func (r TestResult) RowsAffected() (int64, error) { return r.affected, nil }

func (t *TestRows) Columns() []string { return t.results[0].Columns }
func (t *TestRows) Close() error      { Stats.RowsClosed.Add(1); return nil }
func (t *TestRows) ColumnTypeDatabaseTypeName(i int) string {
	if i < len(t.results[0].Types) {
		return t.results[0].Types[i]
	}
	return ""
}
func (t *TestRows) HasNextResultSet() bool { return len(t.results) > 1 }
func (t *TestRows) NextResultSet() error {
	if len(t.results) < 2 {
		return io.EOF
	}
	t.results, t.row = t.results[1:], 0
	return nil
}
func (t *TestRows) Next(dest []driver.Value) error {
	rows := t.results[0].Rows
	if t.row >= len(rows) {
		return io.EOF
	}
	if len(dest) != len(rows[t.row]) {
		return errors.New("TestRows: different len")
	}
	copy(dest, rows[t.row])
	t.row++
	return nil
}
