package zsql

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"zgo.at/zsql/drivers/test"
	"zgo.at/zstd/ztest"
)

func TestWriteToServer(t *testing.T) {
	ctx, e := startTest(t)

	table := &Table{
		Name:    "t",
		Columns: []string{"a", "b"},
		Rows:    [][]any{{1, "x"}, {2, "y"}},
	}
	if err := e.WriteToServer(ctx, table, 0); err != nil {
		t.Fatal(err)
	}

	calls := test.Calls()
	if len(calls) != 1 {
		t.Fatalf("%d calls", len(calls))
	}
	if want := `insert into "t" ("a","b") values ($1,$2),($3,$4)`; calls[0].Query != want {
		t.Errorf("\nhave: %s\nwant: %s", calls[0].Query, want)
	}
	if want := []any{1, "x", 2, "y"}; !reflect.DeepEqual(calls[0].Args, want) {
		t.Errorf("\nhave: %#v\nwant: %#v", calls[0].Args, want)
	}

	t.Run("errors", func(t *testing.T) {
		err := e.WriteToServer(ctx, &Table{Columns: []string{"a"}}, 0)
		if !errors.Is(err, ErrNoTable) {
			t.Errorf("wrong error: %v", err)
		}
		err = e.WriteToServer(ctx, nil, 0)
		if !errors.Is(err, ErrNoTable) {
			t.Errorf("wrong error: %v", err)
		}
	})

	t.Run("transaction", func(t *testing.T) {
		test.Reset()
		err := TX(ctx, func(ctx context.Context) error {
			return e.WriteToServer(ctx, table, 0)
		})
		if err != nil {
			t.Fatal(err)
		}
		calls := test.Calls()
		if len(calls) != 1 || !calls[0].InTx {
			t.Errorf("%#v", calls)
		}
		if test.Stats.Commits.Load() != 1 {
			t.Errorf("commits: %d", test.Stats.Commits.Load())
		}
	})
}

func TestBulkInsert(t *testing.T) {
	ctx, e := startTest(t)

	ins := NewBulkInsert(ctx, e, "tbl", []string{"col1", "col2"})
	ins.Limit = 2
	for i := range 5 {
		ins.Values(i, i*2)
	}
	if have := len(test.Calls()); have != 2 {
		t.Errorf("%d calls before finish", have)
	}
	if err := ins.Finish(); err != nil {
		t.Fatal(err)
	}

	calls := test.Calls()
	if len(calls) != 3 {
		t.Fatalf("%d calls", len(calls))
	}
	if want := `insert into "tbl" ("col1","col2") values ($1,$2)`; calls[2].Query != want {
		t.Errorf("\nhave: %s\nwant: %s", calls[2].Query, want)
	}
	if want := []any{4, 8}; !reflect.DeepEqual(calls[2].Args, want) {
		t.Errorf("\nhave: %#v\nwant: %#v", calls[2].Args, want)
	}

	t.Run("errors", func(t *testing.T) {
		test.Script(`insert into "tbl" ("col1") values ($1)`, test.Response{Err: errors.New("oh noes")})
		ins := NewBulkInsert(ctx, e, "tbl", []string{"col1"})
		ins.Values(1)
		err := ins.Finish()
		if !ztest.ErrorContains(err, "zsql.BulkInsert: 1 errors: zsql.WriteToServer:") || !ztest.ErrorContains(err, "oh noes") {
			t.Errorf("wrong error: %v", err)
		}
		if err := ins.Finish(); err != nil {
			t.Errorf("second finish: %v", err)
		}
	})
}
