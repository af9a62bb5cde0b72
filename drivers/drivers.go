// Package drivers has the driver registry; importing a driver package (e.g.
// zgo.at/zsql/drivers/go-sqlite3) registers it.
package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"testing"
)

// NotExistError is returned by a driver when a database doesn't exist and
// Create is false in the connection arguments.
type NotExistError struct {
	Driver  string // Driver name
	DB      string // Database name
	Connect string // Full connect string
}

func (err NotExistError) Error() string {
	if err.DB == "" {
		return fmt.Sprintf("%s database exists but is empty (from connection string %q)",
			err.Driver, err.Driver+"+"+err.Connect)
	}
	return fmt.Sprintf("%s database %q doesn't exist (from connection string %q)",
		err.Driver, err.DB, err.Driver+"+"+err.Connect)
}

// Driver for a SQL connection.
type Driver interface {
	// Name of this driver.
	Name() string

	// SQL dialect for the database engine; "sqlite", "postgresql", or "mysql".
	Dialect() string

	// Connect to the database with the given connect string, which has
	// everything before the "+" removed.
	//
	// If create is true, it should attempt to create the database if it doesn't
	// exist. The returned bool reports if the database existed.
	Connect(ctx context.Context, connect string, create bool) (*sql.DB, bool, error)

	// ErrUnique reports if this error reports a UNIQUE constraint violation.
	ErrUnique(error) bool

	// BulkCopy gets a bulk copy provider which writes through the session.
	BulkCopy(Session) BulkCopy
}

// Tester is implemented by drivers that can set up a test database.
type Tester interface {
	// Start a new test. This is expected to set up a temporary database which
	// is cleaned at the end.
	StartTest(*testing.T, *TestOptions) context.Context
}

// TestOptions are options to pass to StartTest().
//
// This needs to be a new type to avoid import cycles.
type TestOptions struct {
	Connect string
	Files   fs.FS // Files to run on the new database; a "schema.sql" is run first.
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.Mutex
)

// RegisterDriver registers a new Driver.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	_, ok := drivers[d.Name()]
	if ok {
		panic(fmt.Sprintf("drivers.RegisterDriver: driver %q is already registered", d.Name()))
	}
	drivers[d.Name()] = d
}

// Drivers returns a list of currently registered drivers, sorted by name.
func Drivers() []Driver {
	driversMu.Lock()
	defer driversMu.Unlock()

	d := make([]Driver, 0, len(drivers))
	for _, v := range drivers {
		d = append(d, v)
	}
	sort.Slice(d, func(i, j int) bool { return d[i].Name() < d[j].Name() })
	return d
}

// Lookup a driver by name or dialect.
//
// A driver name is preferred; for a dialect the first registered driver (by
// name) is used.
func Lookup(name string) (Driver, bool) {
	driversMu.Lock()
	d, ok := drivers[name]
	driversMu.Unlock()
	if ok {
		return d, true
	}

	switch name = strings.ToLower(name); name {
	case "postgres", "psql", "pgsql":
		name = "postgresql"
	case "sqlite3":
		name = "sqlite"
	case "mariadb":
		name = "mysql"
	}
	for _, d := range Drivers() {
		if d.Dialect() == name {
			return d, true
		}
	}
	return nil, false
}

// Find the driver for a "driver+connect" connection string, returning the
// driver and the connect string with the driver name removed.
func Find(connect string) (Driver, string, error) {
	name, rest, ok := strings.Cut(connect, "+")
	if !ok {
		return nil, "", fmt.Errorf("drivers.Find: connection string %q is not in the form driver+connect", connect)
	}
	d, ok := Lookup(name)
	if !ok {
		names := make([]string, 0, 4)
		for _, d := range Drivers() {
			names = append(names, d.Name())
		}
		return nil, "", fmt.Errorf("drivers.Find: no driver found for %q; registered drivers: %s; import one of the drivers packages",
			name, strings.Join(names, ", "))
	}
	return d, rest, nil
}

// Test clears all registered drivers, and returns a function to restore them.
func Test() func() {
	driversMu.Lock()
	defer driversMu.Unlock()

	save := make(map[string]Driver)
	for k, v := range drivers {
		save[k] = v
	}
	drivers = make(map[string]Driver)
	return func() {
		driversMu.Lock()
		defer driversMu.Unlock()
		drivers = save
	}
}
