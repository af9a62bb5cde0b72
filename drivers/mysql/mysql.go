// Package mysql provides a zsql driver for MySQL and MariaDB.
//
// This uses https://github.com/go-sql-driver/mysql
//
// Only "sql_mode=ansi" is supported. This means that identifiers have to be
// quoted with a " instead of a `. This is set automatically, as is
// parseTime=true.
//
// Bulk copies use LOAD DATA LOCAL INFILE, which must be allowed on the server
// (local_infile=1).
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"zgo.at/zsql"
	"zgo.at/zsql/drivers"
)

func init() {
	drivers.RegisterDriver(driver{})
}

type driver struct{}

func (driver) Name() string    { return "mysql" }
func (driver) Dialect() string { return "mysql" }
func (driver) ErrUnique(err error) bool {
	var mErr *mysql.MySQLError
	return errors.As(err, &mErr) && mErr.Number == 1062
}

// config parses the connection string and sets our defaults.
func config(connect string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(connect)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	if _, ok := cfg.Params["sql_mode"]; !ok {
		cfg.Params["sql_mode"] = "concat(@@sql_mode, ',ansi')"
	}
	return cfg, nil
}

func open(cfg *mysql.Config) (*sql.DB, error) {
	c, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

func (driver) Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error) {
	cfg, err := config(connect)
	if err != nil {
		return nil, false, fmt.Errorf("mysql.Connect: %w", err)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, false, fmt.Errorf("mysql.Connect: %w", err)
	}

	exists := true
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		var mErr *mysql.MySQLError
		if !errors.As(err, &mErr) || mErr.Number != 1049 { // ER_BAD_DB_ERROR
			return nil, false, fmt.Errorf("mysql.Connect: %w", err)
		}
		if !create {
			return nil, false, &drivers.NotExistError{Driver: "mysql", DB: cfg.DBName, Connect: connect}
		}
		if err := createDB(ctx, cfg); err != nil {
			return nil, false, fmt.Errorf("mysql.Connect: %w", err)
		}
		exists = false
		db, err = open(cfg)
		if err != nil {
			return nil, false, fmt.Errorf("mysql.Connect: %w", err)
		}
	}
	return db, exists, nil
}

func createDB(ctx context.Context, cfg *mysql.Config) error {
	admin := cfg.Clone()
	admin.DBName = ""
	db, err := open(admin)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, `create database "`+cfg.DBName+`"`)
	return err
}

// StartTest starts a new test in a new database, which is dropped after the
// test.
//
// The connection string is read from ZSQL_MYSQL, and defaults to connecting as
// root over the unix socket.
func (driver) StartTest(t *testing.T, opt *drivers.TestOptions) context.Context {
	t.Helper()

	dbname := "zsql_test_" + uuid.NewString()[:8]
	connect := os.Getenv("ZSQL_MYSQL")
	if connect == "" {
		connect = "mysql+root@unix(/var/run/mysqld/mysqld.sock)/"
	}
	copt := zsql.ConnectOptions{Connect: connect + dbname, Create: true}
	if opt != nil && opt.Connect != "" {
		copt.Connect = opt.Connect
	}
	if opt != nil && opt.Files != nil {
		copt.Files = opt.Files
	}

	e, err := zsql.Connect(context.Background(), copt)
	if err != nil {
		t.Fatalf("mysql.StartTest: %s", err)
	}

	ctx := zsql.WithEngine(context.Background(), e)
	t.Cleanup(func() {
		_, err := e.Execute(context.Background(), &zsql.Command{Text: `drop database "` + dbname + `"`})
		if err != nil {
			t.Error(err)
		}
		e.Close()
	})
	return ctx
}
