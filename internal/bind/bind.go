// Package bind rewrites named parameter markers to the placeholder style of a
// database driver.
package bind

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"zgo.at/zsql/internal/sqltoken"
)

// Style controls which placeholders to use parametrized queries.
type Style uint8

// Placeholders styles we know about.
const (
	Unknown  Style = iota // Fall back to Question
	Question              // ?
	Dollar                // $1, $2
	NamedArg              // :arg1, :arg2
	At                    // @p1, @p2
)

func (s Style) String() string {
	switch s {
	case Question:
		return "?"
	case Dollar:
		return "$n"
	case NamedArg:
		return ":argN"
	case At:
		return "@pN"
	}
	return "unknown"
}

var placeholders sync.Map

func init() {
	for p, drivers := range map[Style][]string{
		Dollar:   {"postgres", "pgx", "pq", "pq-timeouts", "cloudsqlpostgres", "cockroach"},
		Question: {"mysql", "sqlite3", "sqlite", "nrmysql", "nrsqlite3"},
		NamedArg: {"oci8", "ora", "goracle", "godror", "oracle"},
		At:       {"sqlserver"},
	} {
		for _, d := range drivers {
			Register(d, p)
		}
	}
}

// Register sets the placeholder style for a SQL driver.
func Register(driver string, style Style) {
	placeholders.Store(driver, style)
}

// Placeholder returns the placeholder style for a SQL driver.
func Placeholder(driver string) Style {
	p, ok := placeholders.Load(driver)
	if !ok {
		return Unknown
	}
	return p.(Style)
}

// Marker gets the n'th (starting at 1) placeholder for this style.
func (s Style) Marker(n int) string {
	switch s {
	case Dollar:
		return "$" + strconv.Itoa(n)
	case NamedArg:
		return ":arg" + strconv.Itoa(n)
	case At:
		return "@p" + strconv.Itoa(n)
	}
	return "?"
}

// Markers gets a comma-separated list of n placeholders.
func (s Style) Markers(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteString(s.Marker(i))
	}
	return b.String()
}

// MissingError is used when a named parameter has no value.
type MissingError struct{ Name string }

func (e MissingError) Error() string { return fmt.Sprintf("no value for parameter %q", e.Name) }

// Named rewrites the named parameters (@name, :name, ?name) in the query to
// the placeholder style.
//
// The lookup function is called once for every distinct name; names are
// compared case-insensitively. For Question a parameter that appears more than
// once is added to the argument list more than once; the other styles refer
// back to the earlier position.
func Named(style Style, query string, lookup func(string) (any, bool)) (string, []any, error) {
	var (
		tokens = sqltoken.Tokenize(query)
		b      strings.Builder
		args   = make([]any, 0, 8)
		pos    = make(map[string]int)
	)
	b.Grow(len(query) + 8)
	for _, t := range tokens {
		if t.Type != sqltoken.Param {
			b.WriteString(t.Text)
			continue
		}

		key := strings.ToLower(t.Name())
		n, ok := pos[key]
		if !ok || style == Question || style == Unknown {
			v, ok := lookup(t.Name())
			if !ok {
				return "", nil, MissingError{t.Name()}
			}
			args = append(args, v)
			n = len(args)
			pos[key] = n
		}
		b.WriteString(style.Marker(n))
	}
	return b.String(), args, nil
}

// Rebind a query from the default placeholder style (Question) to the target
// placeholder style.
func Rebind(style Style, query string) string {
	switch style {
	case Question, Unknown:
		return query
	}

	var (
		tokens = sqltoken.Tokenize(query)
		b      strings.Builder
		j      int
	)
	b.Grow(len(query) + 10)
	for _, t := range tokens {
		if t.Type != sqltoken.QuestionMark {
			b.WriteString(t.Text)
			continue
		}
		j++
		b.WriteString(style.Marker(j))
	}
	return b.String()
}
