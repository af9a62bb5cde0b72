package zsql

import (
	"strings"
	"testing"
	"time"
)

func TestLog(t *testing.T) {
	tests := []struct {
		name    string
		logWhat DumpArg
		filter  string
		want    string
	}{
		{"default", 0, "", "update t set x = $1 where id = $2\n\nselect 1 -- timeout 1s\n\n"},
		{"query", DumpQuery, "", "update t set x = $1 where id = $2\n\nselect 1 -- timeout 1s\n\n"},
		{"params", DumpParams, "", "update t set x = 'a' where id = 1;\n\nselect 1; -- timeout 1s\n\n"},
		{"filter", DumpQuery, "where id", "update t set x = $1 where id = $2\n\n"},
		{"filter none", DumpQuery, "delete", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(strings.Builder)
			ctx, e := startTest(t, ConnectOptions{Log: buf, LogWhat: tt.logWhat, LogFilter: tt.filter})

			cmd, err := e.Render(`update t set x = @x where id = @id`, P{"x": "a", "id": 1}, 0)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := e.Execute(ctx, cmd); err != nil {
				t.Fatal(err)
			}
			if _, err := Query[int](ctx, e, &Command{Text: `select 1`, Timeout: time.Second}); err != nil {
				t.Fatal(err)
			}

			if have := buf.String(); have != tt.want {
				t.Errorf("\nhave:\n%q\nwant:\n%q", have, tt.want)
			}
		})
	}
}

func TestLogLocation(t *testing.T) {
	buf := new(strings.Builder)
	ctx, e := startTest(t, ConnectOptions{Log: buf, LogWhat: DumpQuery | DumpLocation})

	if _, err := e.Execute(ctx, &Command{Text: `select 1`}); err != nil {
		t.Fatal(err)
	}
	err := e.WriteToServer(ctx, &Table{Name: "t", Columns: []string{"a"}, Rows: [][]any{{1}, {2}}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("%q", lines)
	}
	if !strings.HasPrefix(lines[0], "log_test.go:") || lines[1] != "select 1" {
		t.Errorf("%q", lines[:2])
	}
	if !strings.HasPrefix(lines[3], "log_test.go:") || lines[4] != "-- bulk copy 2 rows to t" {
		t.Errorf("%q", lines[3:])
	}
}

func TestLogNil(t *testing.T) {
	var l *cmdLog
	l.log(&Command{Text: "select 1"}, "select 1", nil)

	if newCmdLog(nil, DumpAll, "") != nil {
		t.Error("not nil")
	}
}
