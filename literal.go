package zsql

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect is an SQL dialect.
type Dialect uint8

// Dialects we know about.
const (
	DialectUnknown Dialect = iota
	DialectSQLite
	DialectPostgreSQL
	DialectMariaDB
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "SQLite"
	case DialectPostgreSQL:
		return "PostgreSQL"
	case DialectMariaDB:
		return "MariaDB"
	}
	return "(unknown)"
}

// dialectFrom gets the dialect from the name drivers report.
func dialectFrom(name string) Dialect {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "postgresql", "postgres":
		return DialectPostgreSQL
	case "mariadb", "mysql":
		return DialectMariaDB
	}
	return DialectUnknown
}

// Layout for times in literals.
const literalTime = "2006-01-02T15:04:05.000000"

// Rendered for empty lists, as "in ()" is a syntax error.
const emptyList = "(SELECT null WHERE 1=0)"

// FormatLiteral formats v as an SQL literal.
func FormatLiteral(d Dialect, v any) (string, error) {
	switch vv := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if d == DialectPostgreSQL {
			return strconv.FormatBool(vv), nil
		}
		if vv {
			return "1", nil
		}
		return "0", nil
	case string:
		return quote(d, vv), nil
	case []byte:
		if vv == nil {
			return "null", nil
		}
		switch d {
		case DialectSQLite:
			return "X'" + hex.EncodeToString(vv) + "'", nil
		case DialectPostgreSQL:
			return `'\x` + hex.EncodeToString(vv) + `'::bytea`, nil
		}
		return "0x" + hex.EncodeToString(vv), nil
	case time.Time:
		return quote(d, vv.UTC().Format(literalTime)), nil
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(vv), 'f', -1, 32), nil
	case uuid.UUID:
		return quote(d, vv.String()), nil
	case Param:
		return FormatLiteral(d, vv.Value)
	case *Param:
		if vv == nil {
			return "null", nil
		}
		return FormatLiteral(d, vv.Value)
	case driver.Valuer:
		if rv := reflect.ValueOf(vv); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "null", nil
		}
		dv, err := vv.Value()
		if err != nil {
			return "", fmt.Errorf("zsql.FormatLiteral: %w", err)
		}
		return FormatLiteral(d, dv)
	case fmt.Stringer:
		if rv := reflect.ValueOf(vv); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "null", nil
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "null", nil
		}
		return FormatLiteral(d, rv.Elem().Interface())
	// Also for named types ("enums").
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return FormatLiteral(d, rv.Bool())
	case reflect.String:
		return quote(d, rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return FormatLiteral(d, rv.Bytes())
		}
		return formatList(d, rv)
	}
	return quote(d, fmt.Sprint(v)), nil
}

func formatList(d Dialect, rv reflect.Value) (string, error) {
	if rv.Len() == 0 {
		return emptyList, nil
	}
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := FormatLiteral(d, rv.Index(i).Interface())
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	b.WriteByte(')')
	return b.String(), nil
}

var (
	quoteSQL   = strings.NewReplacer("'", "''")
	quoteMySQL = strings.NewReplacer("'", "''", `\`, `\\`)
)

// quote s as a string literal. MariaDB and MySQL treat a backslash as an
// escape unless NO_BACKSLASH_ESCAPES is set, so it's doubled there.
func quote(d Dialect, s string) string {
	if d == DialectMariaDB {
		return "'" + quoteMySQL.Replace(s) + "'"
	}
	return "'" + quoteSQL.Replace(s) + "'"
}
