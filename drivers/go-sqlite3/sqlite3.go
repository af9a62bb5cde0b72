// Package sqlite3 provides a zsql driver for SQLite.
//
// This uses https://github.com/mattn/go-sqlite3/
//
// Several connection parameters are set to different defaults in SQLite:
//
//	_journal_mode=wal          Almost always faster with better concurrency,
//	                           with little drawbacks for most use cases.
//	                           https://www.sqlite.org/wal.html
//
//	_foreign_keys=on           Check FK constraints; by default they're not
//	                           enforced, which is probably not what you want.
//
//	_busy_timeout=200          Wait 200ms for locks instead of immediately
//	                           throwing an error.
//
//	_defer_foreign_keys=on     Delay FK checks until the transaction commit; by
//	                           default they're checked immediately (if
//	                           enabled).
//
//	_case_sensitive_like=on    LIKE is case-sensitive, like PostgreSQL.
//
//	_cache_size=-20000         20M cache size, instead of 2M. Can be a
//	                           significant performance improvement.
//
// You can still use "?_journal_mode=something_else" in the connection string to
// set something different.
//
// A ":memory:" database is shared between all connections of the engine, but
// not between engines.
//
// Bulk copies use multi-row inserts; SQLite has no faster way.
package sqlite3

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"zgo.at/zsql"
	"zgo.at/zsql/drivers"
)

func init() {
	drivers.RegisterDriver(driver{})
}

type driver struct{}

func (driver) Name() string    { return "sqlite3" }
func (driver) Dialect() string { return "sqlite" }

// SQLITE_MAX_VARIABLE_NUMBER: https://www.sqlite.org/limits.html
func (driver) BulkCopy(s drivers.Session) drivers.BulkCopy {
	return drivers.NewInsertCopy(s, "sqlite3", '"', 32766)
}

var defaults = []string{
	"_journal_mode=wal",
	"_foreign_keys=on",
	"_busy_timeout=200",
	"_defer_foreign_keys=on",
	"_case_sensitive_like=on",
	"_cache_size=-20000",
}

// withDefaults adds the default parameters to the connection string, unless
// they're already set.
func withDefaults(connect string) string {
	for _, d := range defaults {
		k := d[:strings.IndexByte(d, '=')+1]
		if strings.Contains(connect, k) {
			continue
		}
		if strings.ContainsRune(connect, '?') {
			connect += "&" + d
		} else {
			connect += "?" + d
		}
	}
	return connect
}

// fileOf gets the filename from a connection string, or "" for a memory
// database.
func fileOf(connect string) string {
	f := strings.TrimPrefix(connect, "file:")
	if i := strings.IndexByte(f, '?'); i > -1 {
		if strings.Contains(f[i:], "mode=memory") {
			return ""
		}
		f = f[:i]
	}
	if f == ":memory:" || f == "" {
		return ""
	}
	return f
}

// StartTest starts a new test with a new database in a temporary directory.
func (driver) StartTest(t *testing.T, opt *drivers.TestOptions) context.Context {
	t.Helper()

	copt := zsql.ConnectOptions{
		Connect: "sqlite3+" + filepath.Join(t.TempDir(), "test.sqlite3"),
		Create:  true,
	}
	if opt != nil && opt.Connect != "" {
		copt.Connect = opt.Connect
	}
	if opt != nil && opt.Files != nil {
		copt.Files = opt.Files
	}

	e, err := zsql.Connect(context.Background(), copt)
	if err != nil {
		t.Fatalf("sqlite3.StartTest: %s", err)
	}
	t.Cleanup(func() { e.Close() })
	return zsql.WithEngine(context.Background(), e)
}
