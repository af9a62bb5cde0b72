package mapper

import (
	"database/sql"
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// OutOfRangeError is used when a value can't be represented in the target type
// without losing information.
type OutOfRangeError struct {
	Column string
	Value  any
	Type   reflect.Type
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("value %v in column %q is out of range for %s", e.Value, e.Column, e.Type)
}

// UnsupportedMappingError is used when there is no conversion from a column
// value to the target type.
type UnsupportedMappingError struct {
	Column       string
	DatabaseType string
	Source       reflect.Type // nil if the error is about the target type itself.
	Type         reflect.Type
}

func (e *UnsupportedMappingError) Error() string {
	if e.Source == nil {
		return fmt.Sprintf("can't map results to %s", e.Type)
	}
	dt := e.DatabaseType
	if dt == "" {
		dt = "untyped"
	}
	return fmt.Sprintf("can't convert column %q (%s, %s) to %s", e.Column, dt, e.Source, e.Type)
}

var (
	scannerType   = reflect.TypeFor[sql.Scanner]()
	unmarshalType = reflect.TypeFor[encoding.TextUnmarshaler]()
	timeType      = reflect.TypeFor[time.Time]()
	bytesType     = reflect.TypeFor[[]byte]()
)

// Layouts to try when reading a time from a string; SQLite stores times as
// text, and the MariaDB driver returns []byte without parseTime.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func isScanner(t reflect.Type) bool { return reflect.PointerTo(t).Implements(scannerType) }

// assign the column value src to dst.
func assign(col Column, dst reflect.Value, src any) error {
	if src == nil {
		dst.SetZero()
		return nil
	}
	t := dst.Type()

	if isScanner(t) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	switch t.Kind() {
	case reflect.Pointer:
		n := reflect.New(t.Elem())
		if err := assign(col, n.Elem(), src); err != nil {
			return err
		}
		dst.Set(n)
		return nil
	case reflect.Interface:
		v := reflect.ValueOf(src)
		if !v.Type().AssignableTo(t) {
			return unsupported(col, src, t)
		}
		dst.Set(v)
		return nil
	}
	if t == timeType {
		tt, err := toTime(col, src, t)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(tt))
		return nil
	}

	// Named types with UnmarshalText are read from text, so that an enum can be
	// stored as a string.
	if reflect.PointerTo(t).Implements(unmarshalType) {
		switch s := src.(type) {
		case string:
			return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
		case []byte:
			return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText(s)
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := toBool(col, src, t)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(col, src, t)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return &OutOfRangeError{Column: col.Name, Value: src, Type: t}
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toUint(col, src, t)
		if err != nil {
			return err
		}
		if dst.OverflowUint(n) {
			return &OutOfRangeError{Column: col.Name, Value: src, Type: t}
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(col, src, t)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return &OutOfRangeError{Column: col.Name, Value: src, Type: t}
		}
		dst.SetFloat(f)
	case reflect.String:
		s, err := toString(col, src, t)
		if err != nil {
			return err
		}
		dst.SetString(s)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return unsupported(col, src, t)
		}
		var b []byte
		switch s := src.(type) {
		case []byte:
			b = append([]byte(nil), s...)
		case string:
			b = []byte(s)
		default:
			return unsupported(col, src, t)
		}
		dst.SetBytes(b)
	default:
		return unsupported(col, src, t)
	}
	return nil
}

func unsupported(col Column, src any, t reflect.Type) error {
	return &UnsupportedMappingError{Column: col.Name, DatabaseType: col.DatabaseType,
		Source: reflect.TypeOf(src), Type: t}
}

func oor(col Column, src any, t reflect.Type) error {
	return &OutOfRangeError{Column: col.Name, Value: src, Type: t}
}

func toText(src any) (string, bool) {
	switch s := src.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// isNumeric reports if s looks like a number.
func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func toInt(col Column, src any, t reflect.Type) (int64, error) {
	switch s := src.(type) {
	case int64:
		return s, nil
	case int:
		return int64(s), nil
	case int32:
		return int64(s), nil
	case int16:
		return int64(s), nil
	case int8:
		return int64(s), nil
	case uint64:
		if s > math.MaxInt64 {
			return 0, oor(col, src, t)
		}
		return int64(s), nil
	case uint32:
		return int64(s), nil
	case uint16:
		return int64(s), nil
	case uint8:
		return int64(s), nil
	case bool:
		if s {
			return 1, nil
		}
		return 0, nil
	case float64:
		return floatToInt(col, src, s, t)
	case float32:
		return floatToInt(col, src, float64(s), t)
	}

	str, ok := toText(src)
	if !ok {
		return 0, unsupported(col, src, t)
	}
	// A single character read in to a rune; numeric text in a TEXT or VARCHAR
	// column is a number.
	if t.Kind() == reflect.Int32 && (col.isChar() || ((col.isText() || col.DatabaseType == "") && !isNumeric(str))) {
		if utf8.RuneCountInString(str) != 1 {
			return 0, oor(col, src, t)
		}
		r, _ := utf8.DecodeRuneInString(str)
		return int64(r), nil
	}

	str = strings.TrimSpace(str)
	if n, err := strconv.ParseInt(str, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, oor(col, src, t)
		}
		return 0, unsupported(col, src, t)
	}
	return floatToInt(col, src, f, t)
}

func floatToInt(col Column, src any, f float64, t reflect.Type) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, oor(col, src, t)
	}
	return int64(f), nil
}

func toUint(col Column, src any, t reflect.Type) (uint64, error) {
	switch s := src.(type) {
	case uint64:
		return s, nil
	case float64:
		if math.IsNaN(s) || s < 0 || s >= math.MaxUint64 || s != math.Trunc(s) {
			return 0, oor(col, src, t)
		}
		return uint64(s), nil
	}

	if str, ok := toText(src); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(str), 10, 64); err == nil {
			return n, nil
		}
	}
	n, err := toInt(col, src, t)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, oor(col, src, t)
	}
	return uint64(n), nil
}

func toFloat(col Column, src any, t reflect.Type) (float64, error) {
	switch s := src.(type) {
	case float64:
		return s, nil
	case float32:
		return float64(s), nil
	case int64:
		return float64(s), nil
	case uint64:
		return float64(s), nil
	case int:
		return float64(s), nil
	case int32:
		return float64(s), nil
	}
	str, ok := toText(src)
	if !ok {
		return 0, unsupported(col, src, t)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, oor(col, src, t)
		}
		return 0, unsupported(col, src, t)
	}
	return f, nil
}

func toBool(col Column, src any, t reflect.Type) (bool, error) {
	switch s := src.(type) {
	case bool:
		return s, nil
	case int64:
		switch s {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return false, oor(col, src, t)
	}
	str, ok := toText(src)
	if !ok {
		return false, unsupported(col, src, t)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(str))
	if err != nil {
		return false, unsupported(col, src, t)
	}
	return b, nil
}

func toString(col Column, src any, t reflect.Type) (string, error) {
	if s, ok := toText(src); ok {
		return s, nil
	}
	// A rune stored as an integer in a char column.
	if n, ok := src.(int64); ok && col.isChar() {
		if n < 0 || n > utf8.MaxRune {
			return "", oor(col, src, t)
		}
		return string(rune(n)), nil
	}
	// Decimals are returned as float64 by some drivers; allow reading them as
	// text to avoid rounding it.
	if col.isDecimal() {
		switch n := src.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		}
	}
	return "", unsupported(col, src, t)
}

func toTime(col Column, src any, t reflect.Type) (time.Time, error) {
	switch s := src.(type) {
	case time.Time:
		return s, nil
	case int64:
		if col.DatabaseType == "" || strings.Contains(strings.ToUpper(col.DatabaseType), "INT") {
			return time.Unix(s, 0).UTC(), nil
		}
	}
	str, ok := toText(src)
	if !ok {
		return time.Time{}, unsupported(col, src, t)
	}
	str = strings.TrimSpace(str)
	for _, l := range timeLayouts {
		if tt, err := time.Parse(l, str); err == nil {
			return tt, nil
		}
	}
	return time.Time{}, unsupported(col, src, t)
}
