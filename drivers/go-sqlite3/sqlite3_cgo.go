//go:build cgo

package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"zgo.at/zsql/drivers"
	"zgo.at/zsql/internal/bind"
)

var defHook func(*sqlite3.SQLiteConn) error

// DefaultHook sets the default SQLite connection hook to use on every
// connection.
//
// Note that connections made before this are not modified.
func DefaultHook(f func(*sqlite3.SQLiteConn) error) {
	defHook = f
}

func init() {
	sql.Register("sqlite3-zsql", &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			if defHook != nil {
				return defHook(c)
			}
			return nil
		},
	})
	bind.Register("sqlite3-zsql", bind.Question)
}

func (driver) ErrUnique(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (driver) Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error) {
	exists := true
	file := fileOf(connect)
	if file == "" {
		// Every connection to ":memory:" is a new database; use a named
		// database with a shared cache so that all connections in the pool
		// see the same data.
		connect = "file:zsql-" + uuid.NewString() + "?mode=memory&cache=shared"
		exists = false
	} else {
		_, err := os.Stat(file)
		if errors.Is(err, fs.ErrNotExist) {
			if !create {
				return nil, false, &drivers.NotExistError{Driver: "sqlite3", DB: file, Connect: connect}
			}
			exists = false
			err = os.MkdirAll(filepath.Dir(file), 0o755)
			if err != nil {
				return nil, false, fmt.Errorf("sqlite3.Connect: create DB dir: %w", err)
			}
		} else if err != nil {
			return nil, false, fmt.Errorf("sqlite3.Connect: %w", err)
		}
	}

	db, err := sql.Open("sqlite3-zsql", withDefaults(connect))
	if err != nil {
		return nil, false, fmt.Errorf("sqlite3.Connect: %w", err)
	}
	if file == "" {
		// The database is removed once the last connection closes.
		db.SetConnMaxIdleTime(0)
		db.SetMaxIdleConns(4)
	}
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, false, fmt.Errorf("sqlite3.Connect: %w", err)
	}
	return db, exists, nil
}
