package zsql

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"testing"
	"time"

	"zgo.at/zstd/ztest"
)

func TestBool(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		tests := []struct {
			in   Bool
			want driver.Value
		}{
			{false, int64(0)},
			{true, int64(1)},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v", tt.in), func(t *testing.T) {
				have, err := tt.in.Value()
				if err != nil {
					t.Fatal(err)
				}
				if have != tt.want {
					t.Errorf("\nhave: %#v\nwant: %#v", have, tt.want)
				}
			})
		}
	})

	t.Run("scan", func(t *testing.T) {
		tests := []struct {
			in      any
			want    Bool
			wantErr string
		}{
			{[]byte("true"), true, ""},
			{float64(1.0), true, ""},
			{[]byte{1}, true, ""},
			{int64(1), true, ""},
			{"true", true, ""},
			{" ON ", true, ""},
			{true, true, ""},
			{"1", true, ""},

			{[]byte("false"), false, ""},
			{float64(0), false, ""},
			{[]byte{0}, false, ""},
			{int64(0), false, ""},
			{"false", false, ""},
			{"off", false, ""},
			{false, false, ""},
			{"0", false, ""},
			{nil, false, ""},

			{"not a valid bool", false, `invalid value "not a valid bool"`},
			{time.Time{}, false, "unsupported type time.Time"},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v", tt.in), func(t *testing.T) {
				var have Bool
				err := have.Scan(tt.in)
				if !ztest.ErrorContains(err, tt.wantErr) {
					t.Errorf("\nhave: %#v\nwant: %#v", err, tt.wantErr)
				}
				if have != tt.want {
					t.Errorf("\nhave: %#v\nwant: %#v", have, tt.want)
				}
			})
		}
	})

	t.Run("text", func(t *testing.T) {
		for _, b := range []Bool{true, false} {
			text, err := b.MarshalText()
			if err != nil {
				t.Fatal(err)
			}
			var have Bool
			if err := have.UnmarshalText(text); err != nil {
				t.Fatal(err)
			}
			if have != b {
				t.Errorf("%s: have %v", text, have)
			}
		}
	})
}

func TestJSON(t *testing.T) {
	t.Run("scan", func(t *testing.T) {
		tests := []struct {
			in      any
			want    JSON
			wantErr string
		}{
			{nil, nil, ""},
			{`{"a":1}`, JSON(`{"a":1}`), ""},
			{[]byte(`[1,2]`), JSON(`[1,2]`), ""},
			{"{not json", nil, `invalid JSON: "{not json"`},
			{42, nil, "unsupported type int"},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v", tt.in), func(t *testing.T) {
				var have JSON
				err := have.Scan(tt.in)
				if !ztest.ErrorContains(err, tt.wantErr) {
					t.Errorf("\nhave: %#v\nwant: %#v", err, tt.wantErr)
				}
				if !reflect.DeepEqual(have, tt.want) {
					t.Errorf("\nhave: %q\nwant: %q", have, tt.want)
				}
			})
		}
	})

	t.Run("scan copies", func(t *testing.T) {
		src := []byte(`"x"`)
		var j JSON
		if err := j.Scan(src); err != nil {
			t.Fatal(err)
		}
		src[1] = 'y'
		if string(j) != `"x"` {
			t.Errorf("modified: %s", j)
		}
	})

	t.Run("value", func(t *testing.T) {
		v, err := JSON(nil).Value()
		if err != nil || v != nil {
			t.Errorf("%#v, %v", v, err)
		}
		v, err = JSON(`{}`).Value()
		if err != nil || v != "{}" {
			t.Errorf("%#v, %v", v, err)
		}
		v, err = JSONB(`{}`).Value()
		if err != nil || !reflect.DeepEqual(v, []byte("{}")) {
			t.Errorf("%#v, %v", v, err)
		}
	})

	t.Run("marshal", func(t *testing.T) {
		j, err := NewJSON(map[string]int{"a": 1})
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]int
		if err := j.Unmarshal(&m); err != nil {
			t.Fatal(err)
		}
		if m["a"] != 1 {
			t.Errorf("%v", m)
		}

		var s struct {
			Doc  JSON  `json:"doc"`
			Null JSONB `json:"null"`
		}
		s.Doc = j
		out, err := NewJSON(s)
		if err != nil {
			t.Fatal(err)
		}
		if want := `{"doc":{"a":1},"null":null}`; string(out) != want {
			t.Errorf("\nhave: %s\nwant: %s", out, want)
		}
	})
}

func TestBinary(t *testing.T) {
	var b Binary
	if err := b.Scan([]byte{0x00, 0xff}); err != nil {
		t.Fatal(err)
	}
	if have := b.String(); have != "00ff" {
		t.Errorf("have: %q", have)
	}
	if err := b.Scan("text"); err != nil {
		t.Fatal(err)
	}
	if have := b.String(); have != "text" {
		t.Errorf("have: %q", have)
	}
	if v, _ := Binary(nil).Value(); v != nil {
		t.Errorf("nil Binary: %#v", v)
	}
}
