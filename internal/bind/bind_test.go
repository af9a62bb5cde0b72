package bind

import (
	"reflect"
	"strings"
	"testing"

	"zgo.at/zstd/ztest"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in         string
		wantDollar string
		wantAt     string
		wantNamed  string
	}{
		{
			`INSERT INTO foo (a, b, c, d, e, f, g, h, i) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			`INSERT INTO foo (a, b, c, d, e, f, g, h, i) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			`INSERT INTO foo (a, b, c, d, e, f, g, h, i) VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10)`,
			`INSERT INTO foo (a, b, c, d, e, f, g, h, i) VALUES (:arg1, :arg2, :arg3, :arg4, :arg5, :arg6, :arg7, :arg8, :arg9, :arg10)`,
		},
		{
			`INSERT INTO foo (a, b, c) VALUES (?, ?, "foo"), ('?', ?, ?)`,
			`INSERT INTO foo (a, b, c) VALUES ($1, $2, "foo"), ('?', $3, $4)`,
			`INSERT INTO foo (a, b, c) VALUES (@p1, @p2, "foo"), ('?', @p3, @p4)`,
			`INSERT INTO foo (a, b, c) VALUES (:arg1, :arg2, "foo"), ('?', :arg3, :arg4)`,
		},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			if have := Rebind(Dollar, tt.in); have != tt.wantDollar {
				t.Errorf("dollar wrong\nhave: %s\nwant: %s", have, tt.wantDollar)
			}
			if have := Rebind(At, tt.in); have != tt.wantAt {
				t.Errorf("At wrong\nhave: %s\nwant: %s", have, tt.wantAt)
			}
			if have := Rebind(NamedArg, tt.in); have != tt.wantNamed {
				t.Errorf("NamedArg wrong\nhave: %s\nwant: %s", have, tt.wantNamed)
			}
		})
	}
}

func TestNamed(t *testing.T) {
	params := map[string]any{"name": "Jason", "age": 30, "id": 1}
	lookup := func(n string) (any, bool) {
		v, ok := params[strings.ToLower(n)]
		return v, ok
	}

	tests := []struct {
		style     Style
		in        string
		wantQuery string
		wantArgs  []any
		wantErr   string
	}{
		{Question,
			`insert into foo (a, b) values (@name, :age)`,
			`insert into foo (a, b) values (?, ?)`,
			[]any{"Jason", 30}, ""},
		{Question,
			`select * from foo where a = @ID or b = @id`,
			`select * from foo where a = ? or b = ?`,
			[]any{1, 1}, ""},
		{Dollar,
			`select * from foo where a = @ID or b = @id and c = ?age`,
			`select * from foo where a = $1 or b = $1 and c = $2`,
			[]any{1, 30}, ""},
		{At,
			`select '@name', @name::text`,
			`select '@name', @p1::text`,
			[]any{"Jason"}, ""},
		{Dollar,
			`select @nope`,
			``, nil, `no value for parameter "nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			query, args, err := Named(tt.style, tt.in, lookup)
			if !ztest.ErrorContains(err, tt.wantErr) {
				t.Fatal(err)
			}
			if query != tt.wantQuery {
				t.Errorf("\nhave: %s\nwant: %s", query, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) && tt.wantErr == "" {
				t.Errorf("\nhave: %#v\nwant: %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	if p := Placeholder("pgx"); p != Dollar {
		t.Error(p)
	}
	if p := Placeholder("unknown-driver"); p != Unknown {
		t.Error(p)
	}
	if m := Dollar.Markers(3); m != "$1, $2, $3" {
		t.Error(m)
	}
	if m := Question.Markers(2); m != "?, ?" {
		t.Error(m)
	}
}
