// Package pgx provides a zsql driver for PostgreSQL.
//
// This uses https://github.com/jackc/pgx
//
// Bulk copies use COPY FROM.
package pgx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"zgo.at/zsql"
	"zgo.at/zsql/drivers"
)

func init() {
	drivers.RegisterDriver(driver{})
}

type driver struct{}

func (driver) Name() string    { return "pgx" }
func (driver) Dialect() string { return "postgresql" }
func (driver) ErrUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (driver) Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error) {
	cfg, err := pgx.ParseConfig(connect)
	if err != nil {
		return nil, false, fmt.Errorf("pgx.Connect: %w", err)
	}

	exists := true
	db := stdlib.OpenDB(*cfg)
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "3D000" {
			return nil, false, fmt.Errorf("pgx.Connect: %w", err)
		}
		if !create {
			return nil, false, &drivers.NotExistError{Driver: "pgx", DB: cfg.Database, Connect: connect}
		}

		err = createDB(ctx, cfg)
		if err != nil {
			return nil, false, fmt.Errorf("pgx.Connect: %w", err)
		}
		exists = false
		db = stdlib.OpenDB(*cfg)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	return db, exists, nil
}

// createDB creates the database from the config by connecting to the
// "postgres" database with the same credentials.
func createDB(ctx context.Context, cfg *pgx.ConnConfig) error {
	admin := cfg.Copy()
	admin.Database = "postgres"
	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "create database "+pgx.Identifier{cfg.Database}.Sanitize())
	return err
}

func (driver) BulkCopy(s drivers.Session) drivers.BulkCopy { return &copyFrom{s: s} }

type copyFrom struct {
	s       drivers.Session
	timeout time.Duration
}

func (c *copyFrom) SetTimeout(d time.Duration) { c.timeout = d }

func (c *copyFrom) WriteToServer(ctx context.Context, t *drivers.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, cancel := drivers.WithTimeout(ctx, c.timeout)
	defer cancel()

	// A transaction on the session is on the same connection, so the copy is
	// part of it.
	if _, err := c.s.Tx(ctx); err != nil {
		return fmt.Errorf("pgx.CopyFrom: %w", err)
	}
	return c.s.Raw(func(driverConn any) error {
		conn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("pgx.CopyFrom: not a pgx connection but %T", driverConn)
		}
		n, err := conn.Conn().CopyFrom(ctx, pgx.Identifier(strings.Split(t.Name, ".")),
			t.Columns, pgx.CopyFromRows(t.Rows))
		if err != nil {
			return fmt.Errorf("pgx.CopyFrom: %w", err)
		}
		if int(n) != len(t.Rows) {
			return fmt.Errorf("pgx.CopyFrom: copied %d rows out of %d", n, len(t.Rows))
		}
		return nil
	})
}

func withSearchPath(connect, schema string) string {
	if !strings.Contains(connect, "://") {
		return connect + " search_path=" + schema
	}
	if strings.ContainsRune(connect, '?') {
		return connect + "&search_path=" + schema
	}
	return connect + "?search_path=" + schema
}

// StartTest starts a new test.
//
// This connects to the "zsql_test" database unless PGDATABASE is set, creating
// it if it doesn't exist. Every test runs in its own schema, which is removed
// once the test finishes.
//
// The standard PG* environment variables (PGHOST, PGPORT) can be used to
// specify the connection to a PostgreSQL database; see psql(1) for details.
func (driver) StartTest(t *testing.T, opt *drivers.TestOptions) context.Context {
	t.Helper()

	if e := os.Getenv("PGDATABASE"); e == "" {
		t.Setenv("PGDATABASE", "zsql_test")
	}

	connect := "pgx+"
	if opt != nil && opt.Connect != "" {
		connect = opt.Connect
	}
	admin, err := zsql.Connect(context.Background(), zsql.ConnectOptions{Connect: connect, Create: true})
	if err != nil {
		t.Fatalf("pgx.StartTest: connecting to %q: %s", connect, err)
	}
	defer admin.Close()

	schema := fmt.Sprintf("zsql_test_%s", strings.ReplaceAll(time.Now().Format("20060102T150405.000000"), ".", "_"))
	_, err = admin.Execute(context.Background(), &zsql.Command{Text: `create schema ` + schema})
	if err != nil {
		t.Fatalf("pgx.StartTest: creating schema %s: %s", schema, err)
	}

	// Every connection in the pool needs the search_path, so set it in the
	// connection string rather than with "set search_path".
	copt := zsql.ConnectOptions{Connect: withSearchPath(connect, schema)}
	if opt != nil && opt.Files != nil {
		copt.Files = opt.Files
	}
	e, err := zsql.Connect(context.Background(), copt)
	if err != nil {
		t.Fatalf("pgx.StartTest: %s", err)
	}
	if copt.Files != nil {
		if err := e.Create(context.Background()); err != nil {
			t.Fatalf("pgx.StartTest: creating database in schema %s: %s", schema, err)
		}
	}

	t.Cleanup(func() {
		e.Close()
		admin, err := zsql.Connect(context.Background(), zsql.ConnectOptions{Connect: connect})
		if err != nil {
			t.Errorf("pgx.StartTest: %s", err)
			return
		}
		defer admin.Close()
		admin.Execute(context.Background(), &zsql.Command{Text: "drop schema " + schema + " cascade"})
	})
	return zsql.WithEngine(context.Background(), e)
}
