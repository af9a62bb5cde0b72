package zsql

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"zgo.at/zstd/zbyte"
)

// JSON is a JSON document stored in a text column.
//
// NULL is read as a nil JSON, which is also written as NULL.
type JSON []byte

// NewJSON creates a JSON document from v.
func NewJSON(v any) (JSON, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("zsql.NewJSON: %w", err)
	}
	return j, nil
}

// Scan converts the data from the DB.
func (j *JSON) Scan(src any) error {
	b, err := payload("zsql.JSON", src)
	if err != nil {
		return err
	}
	if b != nil && !json.Valid(b) {
		if len(b) > 40 {
			b = append(b[:40:40], "…"...)
		}
		return fmt.Errorf("zsql.JSON: invalid JSON: %q", b)
	}
	*j = b
	return nil
}

// Value determines what to store in the DB.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Unmarshal the document in to v.
func (j JSON) Unmarshal(v any) error {
	if err := json.Unmarshal(j, v); err != nil {
		return fmt.Errorf("zsql.JSON: %w", err)
	}
	return nil
}

// MarshalJSON inlines the document.
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores the document as-is.
func (j *JSON) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}

func (j JSON) String() string { return string(j) }

// JSONB is a JSON document stored in a binary column (jsonb on PostgreSQL,
// blob elsewhere).
type JSONB JSON

// Scan converts the data from the DB.
func (j *JSONB) Scan(src any) error { return (*JSON)(j).Scan(src) }

// Value determines what to store in the DB.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Unmarshal the document in to v.
func (j JSONB) Unmarshal(v any) error          { return JSON(j).Unmarshal(v) }
func (j JSONB) MarshalJSON() ([]byte, error)   { return JSON(j).MarshalJSON() }
func (j *JSONB) UnmarshalJSON(b []byte) error { return (*JSON)(j).UnmarshalJSON(b) }

// Binary is a binary blob.
type Binary []byte

// Scan converts the data from the DB.
func (b *Binary) Scan(src any) error {
	p, err := payload("zsql.Binary", src)
	if err != nil {
		return err
	}
	*b = p
	return nil
}

// Value determines what to store in the DB.
func (b Binary) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return []byte(b), nil
}

func (b Binary) String() string {
	if zbyte.Binary(b) {
		return fmt.Sprintf("%x", []byte(b))
	}
	return string(b)
}

// payload copies a string or []byte value; nil stays nil.
func payload(name string, src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append(make([]byte, 0, len(v)), v...), nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("%s: unsupported type %T", name, src)
}

// Bool converts various types to a boolean.
//
// It's always stored as an integer in the database (the only cross-platform way
// in SQL).
//
// Supported types:
//
//	bool
//	int* and float*     0 or 1
//	[]byte and string   "1", "true", "on", "0", "false", "off"
//	nil                 defaults to false
type Bool bool

// Scan converts the data from the DB.
func (b *Bool) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = false
	case bool:
		*b = Bool(v)
	case int64:
		*b = v != 0
	case float64:
		*b = v != 0
	case []byte:
		if len(v) == 1 && v[0] < '0' { // bit(1) column.
			*b = v[0] == 1
			return nil
		}
		return b.UnmarshalText(v)
	case string:
		return b.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("zsql.Bool: unsupported type %T", src)
	}
	return nil
}

// Value converts a bool type into a number to persist it in the database.
func (b Bool) Value() (driver.Value, error) {
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

// MarshalText converts the data to a human readable representation.
func (b Bool) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%t", b)), nil
}

// UnmarshalText parses text in to the Go data structure.
func (b *Bool) UnmarshalText(text []byte) error {
	switch strings.TrimSpace(strings.ToLower(string(text))) {
	case "true", "1", "on", `"true"`:
		*b = true
	case "false", "0", "off", `"false"`:
		*b = false
	default:
		return fmt.Errorf("zsql.Bool: invalid value %q", text)
	}
	return nil
}
