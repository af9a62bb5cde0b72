// Package mapper converts database rows in to Go values.
//
// A mapper is compiled once for every combination of result shape and target
// type, and cached. When more than 1000 mappers were created since the last
// sweep about half of the cache is dropped in the background.
//
// A row is "invalid" for scalar targets (numbers, strings, times, their
// pointer and sql.Null forms, and sql.Scanner payloads) if the first column is
// NULL; Next skips those rows.
package mapper

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx/reflectx"
)

// Positional marks a struct as being filled by column position rather than by
// column name; embed it as the first field:
//
//	type Pair struct {
//	    mapper.Positional
//	    Key   string
//	    Value int
//	}
type Positional struct{}

// Cursor is a row cursor positioned at a row.
type Cursor interface {
	Scan(dest ...any) error
}

// Mapper maps rows of a single shape to T.
type Mapper[T any] struct {
	shape    Shape
	skipNull bool
	fill     func(dst reflect.Value, vals []any) error
}

// Map the current row.
func (m *Mapper[T]) Map(c Cursor) (T, error) {
	vals, err := m.scan(c)
	if err != nil {
		var zero T
		return zero, err
	}
	return m.Values(vals)
}

// IsInvalid reports if the current row doesn't hold a value for T.
//
// This is the case for scalar targets, including pointers and the sql.Null*
// types, when the first column is NULL; those rows are skipped by Next. It's
// never the case for interface, struct, and map targets.
func (m *Mapper[T]) IsInvalid(c Cursor) (bool, error) {
	vals, err := m.scan(c)
	if err != nil {
		return false, err
	}
	return m.invalid(vals), nil
}

// Next maps the current row, or returns false if the row is invalid.
func (m *Mapper[T]) Next(c Cursor) (T, bool, error) {
	var zero T
	vals, err := m.scan(c)
	if err != nil {
		return zero, false, err
	}
	if m.invalid(vals) {
		return zero, false, nil
	}
	v, err := m.Values(vals)
	return v, err == nil, err
}

// Values maps an already-scanned row.
func (m *Mapper[T]) Values(vals []any) (T, error) {
	var out T
	if len(vals) != m.shape.Len() {
		return out, fmt.Errorf("mapper: have %d values for %d columns", len(vals), m.shape.Len())
	}
	err := m.fill(reflect.ValueOf(&out).Elem(), vals)
	return out, err
}

func (m *Mapper[T]) invalid(vals []any) bool {
	return m.skipNull && vals[0] == nil
}

func (m *Mapper[T]) scan(c Cursor) ([]any, error) {
	var (
		vals = make([]any, m.shape.Len())
		ptrs = make([]any, len(vals))
	)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	return vals, c.Scan(ptrs...)
}

// Cache.

type cacheKey struct {
	hash  uint64
	ncols int
}

type shapeEntry struct {
	shape   Shape
	mappers sync.Map // reflect.Type → *Mapper[T]
}

const evictAfter = 1000

var (
	shapes     sync.Map // cacheKey → *shapeEntry
	created    atomic.Int64
	sweeping   atomic.Bool
	sweepDelay = 10 * time.Second
)

// Get the mapper for T and this shape, compiling it if needed.
func Get[T any](s Shape) (*Mapper[T], error) {
	rt := reflect.TypeFor[T]()

	e, _ := shapes.LoadOrStore(cacheKey{s.key, s.Len()}, &shapeEntry{shape: s})
	ent := e.(*shapeEntry)
	if !ent.shape.equal(s) { // Hash collision; don't cache.
		return compile[T](s, rt)
	}

	if m, ok := ent.mappers.Load(rt); ok {
		return m.(*Mapper[T]), nil
	}
	m, err := compile[T](s, rt)
	if err != nil {
		return nil, err
	}
	have, loaded := ent.mappers.LoadOrStore(rt, m)
	if !loaded && created.Add(1) >= evictAfter && sweeping.CompareAndSwap(false, true) {
		time.AfterFunc(sweepDelay, func() { sweep() })
	}
	return have.(*Mapper[T]), nil
}

// Len gets the number of cached mappers.
func Len() int {
	n := 0
	shapes.Range(func(_, e any) bool {
		e.(*shapeEntry).mappers.Range(func(_, _ any) bool { n++; return true })
		return true
	})
	return n
}

// sweep removes about half the cache, starting at a random offset. Errors
// are never reported; a failed sweep just means the cache stays a bit
// larger.
func sweep() (removed int) {
	defer sweeping.Store(false)
	defer func() {
		if recover() != nil {
			removed = 0
		}
	}()

	type ref struct {
		key cacheKey
		ent *shapeEntry
		typ any
	}
	var all []ref
	shapes.Range(func(k, e any) bool {
		e.(*shapeEntry).mappers.Range(func(t, _ any) bool {
			all = append(all, ref{k.(cacheKey), e.(*shapeEntry), t})
			return true
		})
		return true
	})
	if len(all) == 0 {
		created.Store(0)
		return 0
	}

	var (
		n     = len(all)
		start = rand.IntN(n)
		span  = n/4 + rand.IntN(n/2+1)
	)
	for i := 0; i < span; i++ {
		r := all[(start+i)%n]
		r.ent.mappers.Delete(r.typ)
		empty := true
		r.ent.mappers.Range(func(_, _ any) bool { empty = false; return false })
		if empty {
			shapes.CompareAndDelete(r.key, r.ent)
		}
	}
	created.Store(int64(n - span))
	return span
}

// Compile.

// Field names are lower-cased so columns match case-insensitively.
var fieldMapper = reflectx.NewMapperTagFunc("db", strings.ToLower, strings.ToLower)

func compile[T any](s Shape, rt reflect.Type) (*Mapper[T], error) {
	if s.Len() == 0 {
		return nil, errors.New("mapper: query returned no columns")
	}
	m := &Mapper[T]{shape: s}

	var err error
	switch {
	case isScalar(rt):
		m.skipNull = rt.Kind() != reflect.Interface
		col := s.cols[0]
		m.fill = func(dst reflect.Value, vals []any) error { return assign(col, dst, vals[0]) }
	case rt.Kind() == reflect.Map:
		m.fill, err = compileMap(s, rt)
	case rt.Kind() == reflect.Struct:
		m.fill, err = compileStruct(s, rt)
	case rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct:
		var f func(reflect.Value, []any) error
		f, err = compileStruct(s, rt.Elem())
		m.fill = func(dst reflect.Value, vals []any) error {
			n := reflect.New(rt.Elem())
			if err := f(n.Elem(), vals); err != nil {
				return err
			}
			dst.Set(n)
			return nil
		}
	default:
		err = &UnsupportedMappingError{Type: rt}
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func isScalar(t reflect.Type) bool {
	if isScanner(t) || t == timeType || t == bytesType {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer:
		return isScalar(t.Elem())
	case reflect.Bool, reflect.String, reflect.Interface,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

func compileMap(s Shape, rt reflect.Type) (func(reflect.Value, []any) error, error) {
	if rt.Key().Kind() != reflect.String {
		return nil, &UnsupportedMappingError{Type: rt}
	}
	cols := s.cols
	return func(dst reflect.Value, vals []any) error {
		mp := reflect.MakeMapWithSize(rt, len(cols))
		for i, c := range cols {
			v := reflect.New(rt.Elem()).Elem()
			if err := assign(c, v, vals[i]); err != nil {
				return err
			}
			mp.SetMapIndex(reflect.ValueOf(c.Name).Convert(rt.Key()), v)
		}
		dst.Set(mp)
		return nil
	}, nil
}

var positionalType = reflect.TypeFor[Positional]()

func compileStruct(s Shape, rt reflect.Type) (func(reflect.Value, []any) error, error) {
	type step struct {
		col  Column
		path []int
	}
	steps := make([]step, 0, s.Len())

	if rt.NumField() > 0 && rt.Field(0).Anonymous && rt.Field(0).Type == positionalType {
		var fields []int
		for i := 1; i < rt.NumField(); i++ {
			if f := rt.Field(i); f.IsExported() && f.Tag.Get("db") != "-" {
				fields = append(fields, i)
			}
		}
		if len(fields) > s.Len() {
			return nil, fmt.Errorf("mapper: %s has %d fields but the query returned %d columns",
				rt, len(fields), s.Len())
		}
		for i, f := range fields {
			steps = append(steps, step{s.cols[i], []int{f}})
		}
	} else {
		idx := structIndex(rt)
		for _, c := range s.cols {
			steps = append(steps, step{c, idx[normalize(c.Name)]})
		}
	}

	return func(dst reflect.Value, vals []any) error {
		for i, st := range steps {
			if st.path == nil || vals[i] == nil {
				continue
			}
			if err := assign(st.col, reflectx.FieldByIndexes(dst, st.path), vals[i]); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// structIndex gets a lower-case column name → field index path for a struct.
//
// The name is the db tag, or the field name if there is no tag. Fields of
// embedded structs are included, unless the embedded struct has a name in the
// db tag, in which case they're "name.field".
func structIndex(rt reflect.Type) map[string][]int {
	sm := fieldMapper.TypeMap(rt)
	idx := make(map[string][]int, len(sm.Names))
	for name, fi := range sm.Names {
		idx[name] = fi.Index
	}
	return idx
}
