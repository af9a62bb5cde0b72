package zsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"sort"
	"strings"
	"time"

	"zgo.at/zsql/drivers"
	"zgo.at/zsql/internal/bind"
	"zgo.at/zsql/internal/mapper"
)

// Positional marks a struct as being filled by column position rather than by
// column name; embed it as the first field.
type Positional = mapper.Positional

// Engine runs commands against a database.
type Engine struct {
	connect string
	driver  drivers.Driver
	dialect Dialect
	style   bind.Style
	dbf     *DBFactory // nil if a custom Factory is used.
	pipe    *Pipeline
	log     *cmdLog
	metrics MetricRecorder
	files   fs.FS
}

// ConnectOptions are options for Connect.
type ConnectOptions struct {
	Connect string // Connect string, as "driver+connect".
	Create  bool   // Create the database if it doesn't exist.

	// Log all commands to this writer; LogWhat and LogFilter control what
	// gets logged. Nothing is logged if this is nil.
	Log       io.Writer
	LogWhat   DumpArg
	LogFilter string

	// Record the run time of all commands.
	Metrics MetricRecorder

	// Create connections with this factory, instead of a *sql.DB pool from the
	// driver.
	Factory Factory

	// Files for Load and Create; "schema.sql" is run if the database is
	// created.
	Files fs.FS
}

// Connect to a database.
//
// The connection string is in the form of "driver+connect", where driver is
// the name of a registered driver or the name of a dialect, such as
// "sqlite3+file.sqlite3" or "postgresql+dbname=mydb". The driver needs to be
// imported first (e.g. zgo.at/zsql/drivers/go-sqlite3).
//
// This will return a drivers.NotExistError if the database doesn't exist and
// Create is false. If the database is created then "schema.sql" from Files is
// run, if Files is set.
func Connect(ctx context.Context, opt ConnectOptions) (*Engine, error) {
	d, connect, err := drivers.Find(opt.Connect)
	if err != nil {
		return nil, fmt.Errorf("zsql.Connect: %w", err)
	}

	e := &Engine{
		connect: opt.Connect,
		driver:  d,
		dialect: dialectFrom(d.Dialect()),
		style:   bind.Placeholder(d.Name()),
		log:     newCmdLog(opt.Log, opt.LogWhat, opt.LogFilter),
		metrics: opt.Metrics,
		files:   opt.Files,
	}
	if e.style == bind.Unknown && e.dialect == DialectPostgreSQL {
		e.style = bind.Dollar
	}

	exists := true
	f := opt.Factory
	if f == nil {
		var db *sql.DB
		db, exists, err = d.Connect(ctx, connect, opt.Create)
		if err != nil {
			return nil, fmt.Errorf("zsql.Connect: %w", err)
		}
		e.dbf = NewDBFactory(opt.Create)
		e.dbf.Add(opt.Connect, db)
		f = e.dbf
	}
	e.pipe = NewPipeline(f)

	if !exists && e.files != nil {
		if err := e.Create(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("zsql.Connect: %w", err)
		}
	}
	return e, nil
}

// Close the database connections, if they were opened by Connect.
func (e *Engine) Close() error {
	if e.dbf == nil {
		return nil
	}
	return e.dbf.Close()
}

func (e *Engine) Dialect() Dialect         { return e.dialect }
func (e *Engine) DriverName() string       { return e.driver.Name() }
func (e *Engine) Pipeline() *Pipeline      { return e.pipe }
func (e *Engine) ErrUnique(err error) bool { return e.driver.ErrUnique(err) }

// Render a query template to a command, formatting literals for this engine's
// dialect. See the package-level Render.
func (e *Engine) Render(query string, params P, timeout time.Duration) (*Command, error) {
	return render(e.dialect, query, params, timeout)
}

var ctxEngine = &struct{ n string }{"zsql.engine"}

// WithEngine returns a copy of the context with the engine.
func WithEngine(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, ctxEngine, e)
}

// GetEngine gets the engine from the context.
func GetEngine(ctx context.Context) (*Engine, bool) {
	e, ok := ctx.Value(ctxEngine).(*Engine)
	return e, ok
}

// MustGetEngine gets the engine from the context, panicking if there is none.
func MustGetEngine(ctx context.Context) *Engine {
	e, ok := GetEngine(ctx)
	if !ok {
		panic("zsql.MustGetEngine: no engine on this context")
	}
	return e
}

// bind the command to the driver's placeholders.
func (e *Engine) bind(cmd *Command) (string, []any, error) {
	if cmd.Kind == KindProcedure {
		if e.dialect == DialectSQLite {
			return "", nil, ErrNoProcedures
		}
		names := make([]string, 0, len(cmd.Params))
		for k := range cmd.Params {
			names = append(names, k)
		}
		sort.Strings(names)
		args := make([]any, 0, len(names))
		for _, n := range names {
			args = append(args, argOf(cmd.Params[n]))
		}
		return "call " + cmd.Text + "(" + e.style.Markers(len(args)) + ")", args, nil
	}

	query, args, err := bind.Named(e.style, cmd.Text, func(name string) (any, bool) {
		v, ok := cmd.Params.Lookup(name)
		return argOf(v), ok
	})
	if err != nil {
		var missing bind.MissingError
		if errors.As(err, &missing) {
			return "", nil, fmt.Errorf("%w: %q", ErrMissingParam, missing.Name)
		}
		return "", nil, err
	}
	return query, args, nil
}

// argOf gets the driver argument for a parameter value.
func argOf(v any) any {
	var p Param
	switch vv := v.(type) {
	case Param:
		p = vv
	case *Param:
		if vv == nil {
			return nil
		}
		p = *vv
	default:
		return v
	}
	if p.Direction == In {
		return p.Value
	}
	dest := p.Dest
	if dest == nil {
		dest = new(any)
	}
	return sql.Out{Dest: dest, In: p.Direction == InOut}
}

// lease gets a lease and opens it; the returned function closes it again if
// it was opened here.
func (e *Engine) lease(ctx context.Context) (*Lease, func(), error) {
	l, err := e.pipe.Get(ctx, e.connect)
	if err != nil {
		return nil, nil, err
	}
	if l.State() == StateOpen {
		return l, func() {}, nil
	}
	if err := l.Open(ctx); err != nil {
		return nil, nil, err
	}
	return l, func() { l.Close() }, nil
}

func (e *Engine) record(start time.Time, cmd *Command) {
	if e.metrics != nil {
		e.metrics.Record(time.Since(start), cmd)
	}
}

// Execute a command, returning the number of affected rows.
func (e *Engine) Execute(ctx context.Context, cmd *Command) (int64, error) {
	query, args, err := e.bind(cmd)
	if err != nil {
		return 0, fmt.Errorf("zsql.Execute: %w", err)
	}
	e.log.log(cmd, query, args)

	l, release, err := e.lease(ctx)
	if err != nil {
		return 0, fmt.Errorf("zsql.Execute: %w", err)
	}
	defer release()

	ctx, cancel := drivers.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	start := time.Now()
	r, err := l.ExecContext(ctx, query, args...)
	e.record(start, cmd)
	if err != nil {
		return 0, fmt.Errorf("zsql.Execute: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("zsql.Execute: %w", err)
	}
	return n, nil
}

// query runs the command and gets the rows; done must be called to release
// everything.
func (e *Engine) query(ctx context.Context, cmd *Command) (*sql.Rows, func(), error) {
	rows, cancel, release, err := e.queryParts(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	return rows, func() {
		rows.Close()
		cancel()
		release()
	}, nil
}

func (e *Engine) queryParts(ctx context.Context, cmd *Command) (*sql.Rows, context.CancelFunc, func(), error) {
	query, args, err := e.bind(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	e.log.log(cmd, query, args)

	l, release, err := e.lease(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := drivers.WithTimeout(ctx, cmd.Timeout)
	start := time.Now()
	rows, err := l.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		release()
		return nil, nil, nil, err
	}
	return rows, cancel, func() { e.record(start, cmd); release() }, nil
}

// Query all rows from a command.
//
// Rows where the first column is NULL are skipped if T is a scalar type, such
// as int, *string, or sql.NullInt64; this is what an outer join with no match
// looks like. Use Read or a struct to get NULL rows.
func Query[T any](ctx context.Context, e *Engine, cmd *Command) ([]T, error) {
	rows, done, err := e.query(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("zsql.Query: %w", err)
	}
	defer done()

	l, err := collect[T](rows)
	if err != nil {
		return nil, fmt.Errorf("zsql.Query: %w", err)
	}
	return l, nil
}

// QueryIter is like Query, but returns an iterator that reads the rows as
// they're needed.
//
// The command is run when the iteration starts; errors are reported as the
// second value, after which the iteration stops.
func QueryIter[T any](ctx context.Context, e *Engine, cmd *Command) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, done, err := e.query(ctx, cmd)
		if err != nil {
			yield(zero, fmt.Errorf("zsql.QueryIter: %w", err))
			return
		}
		defer done()

		for v, err := range iterRows[T](rows) {
			if err != nil {
				err = fmt.Errorf("zsql.QueryIter: %w", err)
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Read a single row, according to the command's RowStyle:
//
//	First             At least one row; the first is returned.
//	FirstOrDefault    Any number of rows; if there are none the zero value.
//	Single            Exactly one row.
//	SingleOrDefault   Zero or one rows.
//
// If there are no rows with First or Single then the command's Default is
// returned if set, or a NoElementError if the command has a message set, or
// ErrNoElements if it doesn't.
func Read[T any](ctx context.Context, e *Engine, cmd *Command) (T, error) {
	rows, done, err := e.query(ctx, cmd)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("zsql.Read: %w", err)
	}
	defer done()

	v, err := readRow[T](rows, cmd, cmd.RowStyle)
	if err != nil {
		return v, fmt.Errorf("zsql.Read: %w", err)
	}
	return v, nil
}

// ServerInfo contains information about the SQL server.
type ServerInfo struct {
	Version    ServerVersion
	DriverName string
	Dialect    Dialect
}

// ServerVersion represents a database version.
type ServerVersion string

// AtLeast reports if this version is at least version want.
func (v ServerVersion) AtLeast(want ServerVersion) bool { return want <= v }

// Info gets information about the SQL server.
func (e *Engine) Info(ctx context.Context) (ServerInfo, error) {
	info := ServerInfo{Dialect: e.dialect, DriverName: e.driver.Name()}

	var q string
	switch e.dialect {
	case DialectSQLite:
		q = `select sqlite_version()`
	case DialectMariaDB:
		q = `select version()`
	case DialectPostgreSQL:
		q = `show server_version`
	default:
		return info, nil
	}
	v, err := Read[string](ctx, e, &Command{Text: q})
	if err != nil {
		return ServerInfo{}, fmt.Errorf("zsql.Info: %w", err)
	}
	info.Version = ServerVersion(strings.TrimSuffix(v, "-MariaDB"))
	return info, nil
}

func mapperFor[T any](rows *sql.Rows) (*mapper.Mapper[T], error) {
	s, err := mapper.ShapeOf(rows)
	if err != nil {
		return nil, err
	}
	return mapper.Get[T](s)
}

// iterRows reads all rows in the current result set.
func iterRows[T any](rows *sql.Rows) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var (
			zero T
			m    *mapper.Mapper[T]
			err  error
		)
		for rows.Next() {
			if m == nil {
				m, err = mapperFor[T](rows)
				if err != nil {
					yield(zero, err)
					return
				}
			}
			v, ok, err := m.Next(rows)
			if err != nil {
				yield(zero, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, err)
		}
	}
}

func collect[T any](rows *sql.Rows) ([]T, error) {
	var l []T
	for v, err := range iterRows[T](rows) {
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	return l, nil
}

// readRow reads one row from the current result set, enforcing the row style.
func readRow[T any](rows *sql.Rows, cmd *Command, style RowStyle) (T, error) {
	var zero T
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return noRows[T](cmd, style)
	}

	m, err := mapperFor[T](rows)
	if err != nil {
		return zero, err
	}
	v, err := m.Map(rows)
	if err != nil {
		return zero, err
	}
	if style.single() && rows.Next() {
		return zero, ErrMultipleElements
	}
	return v, rows.Err()
}

func noRows[T any](cmd *Command, style RowStyle) (T, error) {
	var zero T
	if cmd.HasDefault {
		if cmd.Default == nil {
			return zero, nil
		}
		d, ok := cmd.Default.(T)
		if !ok {
			return zero, fmt.Errorf("default value is %T, not %T", cmd.Default, zero)
		}
		return d, nil
	}
	if style.orDefault() {
		return zero, nil
	}
	if cmd.NoElementMessage != "" {
		return zero, &NoElementError{Message: cmd.NoElementMessage}
	}
	return zero, ErrNoElements
}
