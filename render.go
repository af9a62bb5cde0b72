package zsql

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"zgo.at/zsql/internal/sqltoken"
)

// Tokenized templates, by template text.
var tplCache, _ = lru.New[string, sqltoken.Tokens](1024)

func tokenize(query string) sqltoken.Tokens {
	if t, ok := tplCache.Get(query); ok {
		return t
	}
	t := sqltoken.Tokenize(query)
	tplCache.Add(query, t)
	return t
}

var reProcedure = func() *regexp.Regexp {
	id := "(?:\\[[^\\]]+\\]|`[^`]+`|\"[^\"]+\"|[\\p{L}_][\\p{L}\\p{N}_$#@]*)"
	return regexp.MustCompile(`^` + id + `(?:\.` + id + `){0,2}$`)
}()

// IsProcedureName reports if s looks like the (optionally schema-qualified)
// name of a stored procedure, rather than an SQL statement.
func IsProcedureName(s string) bool {
	return reProcedure.MatchString(strings.TrimSpace(s))
}

// Render a query template to a command.
//
// Parameters are referenced as @name, :name, or ?name; the marker character is
// kept as-is and rewritten to the driver's placeholder style when the command
// is run. The marker must not follow an identifier character or the same
// marker, so that a::int and @@version are left alone.
//
// A parameter directly after IN is expanded to a list:
//
//	where id in @ids      → where id in (@ids_1, @ids_2, @ids_3)
//	where id in @ids::int → where id in (@ids_1::int, @ids_2::int, @ids_3::int)
//
// An empty, nil, or missing list is rendered as "(SELECT null WHERE 1=0)".
//
// A parameter which is nil is replaced with a literal null, and {=name} is
// replaced with the value formatted as an SQL literal.
//
// If the query is just a (possibly qualified) name it's assumed to be the name
// of a stored procedure, and the command is returned with the parameters
// unchanged.
func Render(query string, params P, timeout time.Duration) (*Command, error) {
	return render(DialectUnknown, query, params, timeout)
}

func render(d Dialect, query string, params P, timeout time.Duration) (*Command, error) {
	if IsProcedureName(query) {
		return &Command{Text: strings.TrimSpace(query), Params: params, Timeout: timeout, Kind: KindProcedure}, nil
	}

	var (
		tokens = tokenize(query)
		lists  = make(map[string]struct{})
	)
	for i, t := range tokens {
		if t.Type != sqltoken.Param || !afterIn(tokens, i) {
			continue
		}
		if v, ok := params.Lookup(t.Name()); ok {
			if _, native := paramValue(v).(driver.Valuer); native {
				continue
			}
		}
		lists[strings.ToLower(t.Name())] = struct{}{}
	}

	var (
		b   strings.Builder
		out = make(P, len(params))
	)
	b.Grow(len(query))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Type {
		default:
			b.WriteString(t.Text)

		case sqltoken.Param:
			name := t.Name()
			v, ok := params.Lookup(name)
			if _, isList := lists[strings.ToLower(name)]; isList {
				var hint string
				if i+1 < len(tokens) && tokens[i+1].Type == sqltoken.Text {
					hint = hintOf(tokens[i+1].Text)
				}
				if err := expand(&b, out, t.Marker(), name, hint, v); err != nil {
					return nil, fmt.Errorf("zsql.Render: %w", err)
				}
				if hint != "" {
					b.WriteString(tokens[i+1].Text[len(hint):])
					i++
				}
				continue
			}
			if !ok {
				return nil, fmt.Errorf("zsql.Render: %w: %q", ErrMissingParam, name)
			}
			if isNull(v) {
				b.WriteString("null")
				continue
			}
			b.WriteString(t.Text)
			out[name] = v

		case sqltoken.Substitution:
			v, ok := params.Lookup(t.Name())
			if !ok {
				return nil, fmt.Errorf("zsql.Render: %w", &KeyNotFoundError{Name: t.Name()})
			}
			lit, err := FormatLiteral(d, v)
			if err != nil {
				return nil, fmt.Errorf("zsql.Render: %w", err)
			}
			b.WriteString(lit)
		}
	}

	return &Command{Text: b.String(), Params: out, Timeout: timeout}, nil
}

// afterIn reports if the token at i is preceded by whitespace and the keyword
// IN.
func afterIn(tokens sqltoken.Tokens, i int) bool {
	if i < 2 || tokens[i-1].Type != sqltoken.Whitespace || tokens[i-2].Type != sqltoken.Text {
		return false
	}
	w := tokens[i-2].Text
	if len(w) < 2 || !strings.EqualFold(w[len(w)-2:], "in") {
		return false
	}
	if len(w) == 2 {
		return true
	}
	c := w[len(w)-3]
	return !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80)
}

// hintOf gets the type hint glued to a parameter, such as "::int".
func hintOf(s string) string {
	if i := strings.IndexAny(s, "),;"); i > -1 {
		return s[:i]
	}
	return s
}

func isNull(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case Param:
		return vv.Direction == In && isNull(vv.Value)
	case *Param:
		return vv == nil || (vv.Direction == In && isNull(vv.Value))
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// paramValue gets the value of a Param or *Param.
func paramValue(v any) any {
	switch p := v.(type) {
	case Param:
		return p.Value
	case *Param:
		if p == nil {
			return nil
		}
		return p.Value
	}
	return v
}

func expand(b *strings.Builder, out P, marker byte, name, hint string, v any) error {
	v = paramValue(v)
	if v == nil {
		b.WriteString(emptyList)
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			b.WriteString(emptyList)
			return nil
		}
		rv = rv.Elem()
	}
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) ||
		(rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8) {
		return &NotEnumerableError{Name: name, Type: fmt.Sprintf("%T", v)}
	}
	if rv.Len() == 0 {
		b.WriteString(emptyList)
		return nil
	}

	b.WriteByte('(')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		n := name + "_" + strconv.Itoa(i+1)
		b.WriteByte(marker)
		b.WriteString(n)
		b.WriteString(hint)
		out[n] = rv.Index(i).Interface()
	}
	b.WriteByte(')')
	return nil
}
