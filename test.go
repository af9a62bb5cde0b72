package zsql

import (
	"context"
	"os"
	"testing"

	"zgo.at/zsql/drivers"
	"zgo.at/zstd/ztest"
)

// Diff two strings, ignoring whitespace at the start of a line.
//
// This is useful in tests in combination with Engine.DumpString():
//
//	got := e.DumpString(ctx, &zsql.Command{Text: `select * from factions`})
//	want := `
//	    faction_id  name
//	    1           Peacekeepers
//	    2           Moya`
//	if d := zsql.Diff(got, want); d != "" {
//	   t.Error(d)
//	}
//
// It normalizes the leading whitespace in want, making "does my database match
// with what's expected?" fairly easy to test.
func Diff(out, want string) string {
	return ztest.Diff(out, want, ztest.DiffNormalizeWhitespace)
}

// StartTest starts a new test, returning a context with an Engine.
//
// The driver is set with the ZSQL_DRIVER environment variable, and defaults to
// "sqlite3". The driver package needs to be imported in the test, and the
// driver needs to be able to create test databases.
//
// The database will be removed when the test ends.
func StartTest(t *testing.T, opt ...drivers.TestOptions) context.Context {
	t.Helper()

	name := os.Getenv("ZSQL_DRIVER")
	if name == "" {
		name = "sqlite3"
	}
	d, ok := drivers.Lookup(name)
	if !ok {
		t.Fatalf("zsql.StartTest: no driver %q; did you import the driver package?", name)
	}
	tester, ok := d.(drivers.Tester)
	if !ok {
		t.Fatalf("zsql.StartTest: driver %q doesn't support tests", d.Name())
	}

	var o *drivers.TestOptions
	if len(opt) > 0 {
		o = &opt[0]
	}
	return tester.StartTest(t, o)
}
