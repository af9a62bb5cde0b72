package zsql

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"zgo.at/zsql/internal/sqltoken"
	"zgo.at/zstd/zbyte"
)

// DumpArg controls what Dump and the query log show.
type DumpArg int32

const (
	DumpVertical DumpArg = 1 << iota // Show vertical output instead of horizontal columns.
	DumpQuery                        // Show the query.
	DumpParams                       // Show the query with parameters applied.
	DumpExplain                      // Show the query plan.
	DumpLocation                     // Show the location of the caller.
	DumpCSV                          // Print as CSV.
	DumpJSON                         // Print as JSON.
	DumpAll      = DumpQuery | DumpParams | DumpLocation
)

// Dump the results of a query to a writer in an aligned table. This is a
// convenience function intended mostly for testing/debugging.
//
// Combined with ztest.Diff() it can be an easy way to test the database state.
//
// This panics on errors.
func (e *Engine) Dump(ctx context.Context, out io.Writer, cmd *Command, args ...DumpArg) {
	var what DumpArg
	for _, a := range args {
		what |= a
	}

	cols, rows, err := e.rowsAsAny(ctx, cmd)
	if err != nil {
		panic(err)
	}

	if what&(DumpQuery|DumpParams) != 0 {
		query, params, _ := e.bind(cmd)
		fmt.Fprintln(out, "Query:", ApplyParams(query, params...))
	}

	switch {
	case what&DumpCSV != 0:
		w := csv.NewWriter(out)
		w.Write(cols)
		for _, row := range rows {
			r := make([]string, len(row))
			for i, c := range row {
				r[i] = formatParam(c, false)
			}
			w.Write(r)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			panic(err)
		}
	case what&DumpJSON != 0:
		l := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			m := make(map[string]any, len(row))
			for i, c := range row {
				if b, ok := c.([]byte); ok && !zbyte.Binary(b) {
					c = string(b)
				}
				m[cols[i]] = c
			}
			l = append(l, m)
		}
		j, err := json.MarshalIndent(l, "", "  ")
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(out, string(j))
	default:
		dumpTable(out, cols, rows, what&DumpVertical != 0)
	}

	if what&DumpExplain != 0 {
		plan, err := e.Explain(ctx, cmd)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(out, "\nEXPLAIN:")
		fmt.Fprintln(out, plan)
	}
}

func dumpTable(out io.Writer, cols []string, rows [][]any, vertical bool) {
	t := tabwriter.NewWriter(out, 4, 4, 2, ' ', 0)
	if vertical {
		for _, row := range rows {
			for i, c := range row {
				fmt.Fprintf(t, "%s\t%v\n", cols[i], formatParam(c, false))
			}
			t.Write([]byte("\n"))
		}
	} else {
		t.Write([]byte(strings.Join(cols, "\t") + "\n"))
		for _, row := range rows {
			for i, c := range row {
				t.Write([]byte(formatParam(c, false)))
				if i < len(row)-1 {
					t.Write([]byte("\t"))
				}
			}
			t.Write([]byte("\n"))
		}
	}
	t.Flush()
}

// DumpString is like Dump(), but returns the result as a string.
func (e *Engine) DumpString(ctx context.Context, cmd *Command, args ...DumpArg) string {
	b := new(bytes.Buffer)
	e.Dump(ctx, b, cmd, args...)
	return b.String()
}

func (e *Engine) rowsAsAny(ctx context.Context, cmd *Command) ([]string, [][]any, error) {
	rows, done, err := e.query(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	defer done()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var all [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		all = append(all, row)
	}
	return cols, all, rows.Err()
}

var reDollar = regexp.MustCompile(`\$(\d+)`)

// ApplyParams replaces parameter placeholders in query with the values.
//
// This is ONLY for printf-debugging, and NOT for actual usage. Security was NOT
// a consideration when writing this. Parameters in SQL are sent separately over
// the write and are not interpolated, so it's very different.
//
// This supports ? and $1 placeholders.
func ApplyParams(query string, params ...any) string {
	var b strings.Builder
	n := 0
	for _, t := range sqltoken.Tokenize(query) {
		switch t.Type {
		case sqltoken.QuestionMark:
			if n < len(params) {
				b.WriteString(formatParam(params[n], true))
				n++
			} else {
				b.WriteString(t.Text)
			}
		case sqltoken.Text:
			b.WriteString(reDollar.ReplaceAllStringFunc(t.Text, func(m string) string {
				i, _ := strconv.Atoi(m[1:])
				if i < 1 || i > len(params) {
					return m
				}
				return formatParam(params[i-1], true)
			}))
		default:
			b.WriteString(t.Text)
		}
	}

	query = deIndent(b.String())
	if !strings.HasSuffix(query, ";") {
		return query + ";"
	}
	return query
}

func formatParam(a any, quoted bool) string {
	if a == nil {
		return "NULL"
	}
	switch aa := a.(type) {
	case *string:
		if aa == nil {
			return "NULL"
		}
		a = *aa
	case *int:
		if aa == nil {
			return "NULL"
		}
		a = *aa
	case *int64:
		if aa == nil {
			return "NULL"
		}
		a = *aa
	case *time.Time:
		if aa == nil {
			return "NULL"
		}
		a = *aa
	}

	switch aa := a.(type) {
	case time.Time:
		return formatParam(aa.Format("2006-01-02 15:04:05"), quoted)
	case int, int64:
		return fmt.Sprintf("%v", aa)
	case []byte:
		if zbyte.Binary(aa) {
			return fmt.Sprintf("%x", aa)
		}
		return formatParam(string(aa), quoted)
	case string:
		if quoted {
			return fmt.Sprintf("'%v'", strings.ReplaceAll(aa, "'", "''"))
		}
		return aa
	default:
		if quoted {
			return fmt.Sprintf("'%v'", aa)
		}
		return fmt.Sprintf("%v", aa)
	}
}

func deIndent(in string) string {
	// Ignore comment at the start for indentation as I often write:
	//     Query(ctx, e, `/* Comment for PostgreSQL logs */
	//             select [..]
	//     `)
	in = strings.TrimLeft(in, "\n\t ")
	rest := in
	if strings.HasPrefix(in, "/*") {
		if i := strings.Index(in, "*/"); i > -1 {
			rest = in[i+2:]
		}
	}

	indent := 0
	for _, c := range strings.TrimLeft(rest, "\n") {
		if c != '\t' {
			break
		}
		indent++
	}

	r := ""
	for _, line := range strings.Split(in, "\n") {
		r += strings.Replace(line, "\t", "", indent) + "\n"
	}

	return strings.TrimSpace(r)
}
