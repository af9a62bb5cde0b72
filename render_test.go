package zsql

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"zgo.at/zstd/ztest"
)

func TestRender(t *testing.T) {
	tests := []struct {
		query      string
		params     P
		want       string
		wantParams P
		wantErr    string
	}{
		{`select 1`, nil, `select 1`, P{}, ""},
		{`select * from t where id = @id`, P{"id": 1},
			`select * from t where id = @id`, P{"id": 1}, ""},
		{`select * from t where id = :ID`, P{"id": 1},
			`select * from t where id = :ID`, P{"ID": 1}, ""},

		// IN-lists
		{`select * from t where id in @ids`, P{"ids": []int{1, 2, 3}},
			`select * from t where id in (@ids_1, @ids_2, @ids_3)`,
			P{"ids_1": 1, "ids_2": 2, "ids_3": 3}, ""},
		{`select * from t where id IN ?ids and x = 1`, P{"ids": [2]string{"a", "b"}},
			`select * from t where id IN (?ids_1, ?ids_2) and x = 1`,
			P{"ids_1": "a", "ids_2": "b"}, ""},
		{`select * from t where id in @ids::int)`, P{"ids": []int{1, 2}},
			`select * from t where id in (@ids_1::int, @ids_2::int))`,
			P{"ids_1": 1, "ids_2": 2}, ""},
		{`select * from t where id in @ids;`, P{"ids": []int{}},
			`select * from t where id in (SELECT null WHERE 1=0);`, P{}, ""},
		{`select * from t where id in @ids`, P{"ids": nil},
			`select * from t where id in (SELECT null WHERE 1=0)`, P{}, ""},
		{`select * from t where id in @ids`, nil,
			`select * from t where id in (SELECT null WHERE 1=0)`, P{}, ""},
		{`select * from t where id in @ids`, P{"ids": (*[]int)(nil)},
			`select * from t where id in (SELECT null WHERE 1=0)`, P{}, ""},
		{`select * from t where id in @ids and x in @ids`, P{"ids": []int{7}},
			`select * from t where id in (@ids_1) and x in (@ids_1)`, P{"ids_1": 7}, ""},
		{`select * from t where id in @ids`, P{"ids": Param{Value: []int{1, 2}}},
			`select * from t where id in (@ids_1, @ids_2)`, P{"ids_1": 1, "ids_2": 2}, ""},
		{`select * from t where id in @ids`, P{"ids": &Param{Value: []int{1}}},
			`select * from t where id in (@ids_1)`, P{"ids_1": 1}, ""},
		{`select * from t where id in @ids`, P{"ids": (*Param)(nil)},
			`select * from t where id in (SELECT null WHERE 1=0)`, P{}, ""},
		{`select * from t where id in @ids`, P{"ids": 5},
			``, nil, `parameter "ids" is used as a list but is int`},
		{`select * from t where id in @ids`, P{"ids": []byte("x")},
			``, nil, `is used as a list but is []uint8`},
		{`select * from t where login @ids`, P{"ids": []int{1}},
			`select * from t where login @ids`, P{"ids": []int{1}}, ""},

		// Nulls
		{`update t set x = @x where id = @id`, P{"x": nil, "id": 1},
			`update t set x = null where id = @id`, P{"id": 1}, ""},
		{`update t set x = @x`, P{"x": (*int)(nil)},
			`update t set x = null`, P{}, ""},

		// Things that aren't parameters.
		{`select @@version, 'a @b', x::int`, nil,
			`select @@version, 'a @b', x::int`, P{}, ""},
		{`select 1 -- @x`, nil, `select 1 -- @x`, P{}, ""},

		// Literals
		{`select * from {=tbl} limit {=n}`, P{"tbl": "it's", "n": 5},
			`select * from 'it''s' limit 5`, P{}, ""},
		{`select {=x}`, nil, ``, nil, `literal substitution {=x}: key not found`},

		{`select * from t where id = @id`, nil, ``, nil, `missing parameter: "id"`},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			have, err := Render(tt.query, tt.params, 0)
			if !ztest.ErrorContains(err, tt.wantErr) {
				t.Fatalf("wrong error\nhave: %v\nwant: %v", err, tt.wantErr)
			}
			if tt.wantErr != "" {
				return
			}
			if have.Text != tt.want {
				t.Errorf("\nhave: %s\nwant: %s", have.Text, tt.want)
			}
			if !reflect.DeepEqual(have.Params, tt.wantParams) {
				t.Errorf("\nhave: %#v\nwant: %#v", have.Params, tt.wantParams)
			}
			if have.Kind != KindText {
				t.Errorf("kind: %s", have.Kind)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	_, err := Render(`select @x`, nil, 0)
	if !errors.Is(err, ErrMissingParam) {
		t.Errorf("%#v", err)
	}

	_, err = Render(`select {=x}`, nil, 0)
	var kErr *KeyNotFoundError
	if !errors.As(err, &kErr) || kErr.Name != "x" {
		t.Errorf("%#v", err)
	}

	_, err = Render(`select 1 where x in @x`, P{"x": "str"}, 0)
	var nErr *NotEnumerableError
	if !errors.As(err, &nErr) || nErr.Name != "x" || nErr.Type != "string" {
		t.Errorf("%#v", err)
	}
}

func TestRenderValuer(t *testing.T) {
	// Types that know how to send themselves aren't expanded.
	arr := pq.Array([]int64{1, 2})
	have, err := Render(`select * from t where id in @ids`, P{"ids": arr}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := `select * from t where id in @ids`; have.Text != want {
		t.Errorf("\nhave: %s\nwant: %s", have.Text, want)
	}
	if !reflect.DeepEqual(have.Params["ids"], arr) {
		t.Errorf("%#v", have.Params)
	}
}

func TestRenderProcedure(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`get_user`, true},
		{`dbo.get_user`, true},
		{`  db.dbo.get_user  `, true},
		{`[my proc]`, true},
		{`"schema"."proc"`, true},
		{"`proc`", true},
		{`select 1`, false},
		{`get_user()`, false},
		{`a.b.c.d`, false},
		{``, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if have := IsProcedureName(tt.in); have != tt.want {
				t.Errorf("have %t; want %t", have, tt.want)
			}
		})
	}

	have, err := Render(` dbo.get_user `, P{"id": 1}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if have.Kind != KindProcedure || have.Text != "dbo.get_user" || have.Timeout != time.Second {
		t.Errorf("%#v", have)
	}
	if !reflect.DeepEqual(have.Params, P{"id": 1}) {
		t.Errorf("%#v", have.Params)
	}
}

func TestRenderTimeout(t *testing.T) {
	have, err := Render(`select 1`, nil, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if have.Timeout != 5*time.Second {
		t.Error(have.Timeout)
	}
}

type enum int

func TestFormatLiteral(t *testing.T) {
	var (
		tm   = time.Date(2024, 6, 18, 14, 15, 16, 0, time.UTC)
		id   = uuid.MustParse("9b4e2e5a-4bdb-43a4-9b2d-6c0b1d6f5c4e")
		nilP *int
		five = 5
	)

	tests := []struct {
		d    Dialect
		in   any
		want string
	}{
		{DialectUnknown, nil, `null`},
		{DialectUnknown, nilP, `null`},
		{DialectUnknown, &five, `5`},
		{DialectUnknown, 42, `42`},
		{DialectUnknown, int8(-3), `-3`},
		{DialectUnknown, uint64(18446744073709551615), `18446744073709551615`},
		{DialectUnknown, enum(2), `2`},
		{DialectUnknown, 1.5, `1.5`},
		{DialectUnknown, float32(0.25), `0.25`},
		{DialectUnknown, "it's", `'it''s'`},
		{DialectPostgreSQL, `a\'b`, `'a\''b'`},
		{DialectMariaDB, `a\'b`, `'a\\''b'`},
		{DialectMariaDB, []string{`x\`}, `('x\\')`},
		{DialectUnknown, true, `1`},
		{DialectPostgreSQL, true, `true`},
		{DialectSQLite, false, `0`},
		{DialectUnknown, []byte{0xde, 0xad}, `0xdead`},
		{DialectSQLite, []byte{0xde, 0xad}, `X'dead'`},
		{DialectPostgreSQL, []byte{0xde, 0xad}, `'\xdead'::bytea`},
		{DialectUnknown, []byte(nil), `null`},
		{DialectUnknown, tm, `'2024-06-18T14:15:16.000000'`},
		{DialectUnknown, id, `'9b4e2e5a-4bdb-43a4-9b2d-6c0b1d6f5c4e'`},
		{DialectUnknown, []int{1, 2}, `(1, 2)`},
		{DialectUnknown, []string{"a", "b'"}, `('a', 'b''')`},
		{DialectUnknown, []int{}, emptyList},
		{DialectUnknown, Param{Value: "x"}, `'x'`},
		{DialectUnknown, Bool(true), `1`},
		{DialectPostgreSQL, JSON(`{"a":1}`), `'{"a":1}'`},
		{DialectUnknown, JSON(nil), `null`},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			have, err := FormatLiteral(tt.d, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if have != tt.want {
				t.Errorf("\nhave: %s\nwant: %s", have, tt.want)
			}
		})
	}
}

func TestRenderLiteralBackslash(t *testing.T) {
	query := "select * from users where name = {=n}"
	params := P{"n": `x\' or 1=1 -- `}

	tests := []struct {
		d    Dialect
		want string
	}{
		{DialectMariaDB, `select * from users where name = 'x\\'' or 1=1 -- '`},
		{DialectSQLite, `select * from users where name = 'x\'' or 1=1 -- '`},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			cmd, err := render(tt.d, query, params, 0)
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Text != tt.want {
				t.Errorf("\nhave: %s\nwant: %s", cmd.Text, tt.want)
			}
		})
	}
}
