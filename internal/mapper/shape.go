package mapper

import (
	"database/sql"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Column describes a single result column.
type Column struct {
	Name         string
	DatabaseType string // As reported by the driver; may be empty.
}

// Shape is the list of columns of a result set; mappers are compiled and cached
// per shape.
type Shape struct {
	cols []Column
	key  uint64
}

// NewShape creates a new shape from the columns.
func NewShape(cols ...Column) Shape {
	h := xxhash.New()
	for _, c := range cols {
		_, _ = h.WriteString(normalize(c.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(strings.ToUpper(c.DatabaseType))
		_, _ = h.Write([]byte{0})
	}
	return Shape{cols: cols, key: h.Sum64()}
}

// ShapeOf gets the shape of the current result set.
func ShapeOf(rows *sql.Rows) (Shape, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return Shape{}, err
	}
	cols := make([]Column, len(types))
	for i, t := range types {
		cols[i] = Column{Name: t.Name(), DatabaseType: t.DatabaseTypeName()}
	}
	return NewShape(cols...), nil
}

func (s Shape) Columns() []Column { return s.cols }
func (s Shape) Len() int          { return len(s.cols) }

func (s Shape) equal(o Shape) bool {
	if s.key != o.key || len(s.cols) != len(o.cols) {
		return false
	}
	for i := range s.cols {
		if normalize(s.cols[i].Name) != normalize(o.cols[i].Name) ||
			!strings.EqualFold(s.cols[i].DatabaseType, o.cols[i].DatabaseType) {
			return false
		}
	}
	return true
}

// normalize a column name: strip quotes and lower-case it.
func normalize(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '`' && s[len(s)-1] == '`',
			s[0] == '[' && s[len(s)-1] == ']':
			s = s[1 : len(s)-1]
		}
	}
	return strings.ToLower(s)
}

// Declared type helpers; these look at the DatabaseTypeName, which varies per
// driver ("VARCHAR", "TEXT", "NVARCHAR(10)", "BPCHAR", etc.)

func (c Column) isText() bool {
	t := strings.ToUpper(c.DatabaseType)
	return strings.Contains(t, "CHAR") || strings.Contains(t, "TEXT") ||
		strings.Contains(t, "CLOB") || t == "STRING" || t == "NAME"
}

func (c Column) isChar() bool {
	t := strings.ToUpper(c.DatabaseType)
	return strings.HasPrefix(t, "CHAR") || strings.HasPrefix(t, "NCHAR") || t == "BPCHAR"
}

func (c Column) isDecimal() bool {
	t := strings.ToUpper(c.DatabaseType)
	return strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC") ||
		strings.HasPrefix(t, "NUMBER") || t == "MONEY"
}
