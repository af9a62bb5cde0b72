package zsql

import (
	"reflect"
	"strings"
	"time"

	"zgo.at/zstd/zreflect"
)

// P is a set of named parameters.
//
// Names are compared case-insensitively; an exact match is preferred.
type P map[string]any

// Lookup a parameter by name.
func (p P) Lookup(name string) (any, bool) {
	if v, ok := p[name]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Params creates P from the exported fields of a struct, using the db tag as
// the name if set.
func Params(s any) P {
	v := reflect.Indirect(reflect.ValueOf(s))
	if v.Kind() == reflect.Map {
		p := make(P, v.Len())
		for it := v.MapRange(); it.Next(); {
			p[it.Key().String()] = it.Value().Interface()
		}
		return p
	}
	if v.Kind() != reflect.Struct {
		panic("zsql.Params: not a struct or map but " + v.Type().String())
	}
	if reflect.TypeOf(s).Kind() != reflect.Pointer {
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		s = ptr.Interface()
	}

	names, vals, _ := zreflect.Fields(s, "db", "")
	p := make(P, len(names))
	for i := range names {
		p[names[i]] = vals[i]
	}
	return p
}

// Direction of a parameter.
type Direction uint8

// Parameter directions.
const (
	In Direction = iota
	Out
	InOut
	Return
)

func (d Direction) String() string {
	return [...]string{"In", "Out", "InOut", "Return"}[d]
}

// Param is a parameter with extra information; parameters in P can also be
// plain values, which are the same as a Param with only Value set.
type Param struct {
	Value     any
	Direction Direction
	DBType    string // Only informational; the driver decides the type.
	Size      int
	Precision uint8
	Scale     uint8

	// Dest receives the value for Out, InOut, and Return parameters; it must be
	// a pointer.
	Dest any
}

// CommandKind is the kind of command.
type CommandKind uint8

// Command kinds.
const (
	KindText      CommandKind = iota // SQL text.
	KindProcedure                    // Name of a stored procedure.
)

func (k CommandKind) String() string {
	if k == KindProcedure {
		return "procedure"
	}
	return "text"
}

// RowStyle controls how many rows Read accepts.
type RowStyle uint8

// Row styles.
const (
	First           RowStyle = iota // At least one row.
	FirstOrDefault                  // Any number of rows.
	Single                          // Exactly one row.
	SingleOrDefault                 // Zero or one row.
)

func (s RowStyle) String() string {
	return [...]string{"First", "FirstOrDefault", "Single", "SingleOrDefault"}[s]
}

func (s RowStyle) orDefault() bool { return s == FirstOrDefault || s == SingleOrDefault }
func (s RowStyle) single() bool    { return s == Single || s == SingleOrDefault }

// Command is a rendered query, ready to be run.
type Command struct {
	Text    string
	Params  P
	Timeout time.Duration // 0 for no timeout.
	Kind    CommandKind

	// Options for Read.
	RowStyle RowStyle
	Default  any // Returned if there are no rows and HasDefault is set.
	// Returned as a NoElementError if there are no rows, if set.
	NoElementMessage string
	HasDefault       bool
}

// WithDefault sets the value to return from Read if there are no rows.
func (c *Command) WithDefault(v any) *Command {
	c.Default, c.HasDefault = v, true
	return c
}

// WithRowStyle sets the row style for Read.
func (c *Command) WithRowStyle(s RowStyle) *Command {
	c.RowStyle = s
	return c
}

// WithError sets the message for the error to return from Read if there are no
// rows.
func (c *Command) WithError(msg string) *Command {
	c.NoElementMessage = msg
	return c
}

func (c *Command) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Kind == KindProcedure {
		return "call " + c.Text
	}
	return c.Text
}
