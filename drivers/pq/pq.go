// Package pq provides a zsql driver for PostgreSQL.
//
// This uses https://github.com/lib/pq
//
// This will set the maximum number of open and idle connections to 25 each,
// instead of Go's default of 0 and 2.
//
// Bulk copies use COPY FROM STDIN through pq.CopyIn.
package pq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"zgo.at/zsql/drivers"
)

func init() {
	drivers.RegisterDriver(driver{})
}

type driver struct{}

func (driver) Name() string    { return "pq" }
func (driver) Dialect() string { return "postgresql" }
func (driver) ErrUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var reNotExist = regexp.MustCompile(`pq: database "(.+?)" does not exist`)

func (driver) Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error) {
	db, err := sql.Open("postgres", connect)
	if err != nil {
		return nil, false, fmt.Errorf("pq.Connect: %w", err)
	}

	exists := true
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		var (
			dbname string
			pqErr  *pq.Error
		)
		// pq doesn't expose any way to parse the connection string, so get the
		// name from the error.
		if errors.As(err, &pqErr) && pqErr.Code == "3D000" {
			if x := reNotExist.FindStringSubmatch(pqErr.Error()); len(x) >= 2 {
				dbname = x[1]
			}
		}
		if dbname == "" {
			return nil, false, fmt.Errorf("pq.Connect: %w", err)
		}
		if !create {
			return nil, false, &drivers.NotExistError{Driver: "pq", DB: dbname, Connect: connect}
		}

		out, cerr := exec.CommandContext(ctx, "createdb", dbname).CombinedOutput()
		if cerr != nil {
			return nil, false, fmt.Errorf("pq.Connect: %w: %s", cerr, out)
		}
		exists = false
		db, err = sql.Open("postgres", connect)
		if err != nil {
			return nil, false, fmt.Errorf("pq.Connect: %w", err)
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	return db, exists, nil
}

func (driver) BulkCopy(s drivers.Session) drivers.BulkCopy { return &copyIn{s: s} }

type copyIn struct {
	s       drivers.Session
	timeout time.Duration
}

func (c *copyIn) SetTimeout(d time.Duration) { c.timeout = d }

// copyStmt gets the COPY statement for the table.
func copyStmt(t *drivers.Table) string {
	if schema, table, ok := strings.Cut(t.Name, "."); ok {
		return pq.CopyInSchema(schema, table, t.Columns...)
	}
	return pq.CopyIn(t.Name, t.Columns...)
}

// WriteToServer copies the rows; pq can only COPY in a transaction, so a new
// transaction is started if the session isn't in one already.
func (c *copyIn) WriteToServer(ctx context.Context, t *drivers.Table) (err error) {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, cancel := drivers.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.s.Tx(ctx)
	if err != nil {
		return fmt.Errorf("pq.CopyIn: %w", err)
	}
	if tx == nil {
		tx, err = c.s.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("pq.CopyIn: %w", err)
		}
		defer func() {
			if err != nil {
				tx.Rollback()
				return
			}
			if cerr := tx.Commit(); cerr != nil {
				err = fmt.Errorf("pq.CopyIn: %w", cerr)
			}
		}()
	}

	stmt, err := tx.PrepareContext(ctx, copyStmt(t))
	if err != nil {
		return fmt.Errorf("pq.CopyIn: %w", err)
	}
	defer stmt.Close()

	for _, r := range t.Rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("pq.CopyIn: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("pq.CopyIn: %w", err)
	}
	return nil
}
