package zsql

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"zgo.at/zsql/drivers"
	"zgo.at/zstd/zreflect"
)

type (
	Tabler interface {
		// Table returns the table this row belongs to.
		Table() string
	}
	Defaulter interface {
		// Defaults sets default values for this row.
		Defaults(context.Context)
	}
	Validator interface {
		// Validate this row.
		Validate(context.Context) error
	}
)

func idcol(opts [][]string) (int, error) {
	col := -1
	for i, o := range opts {
		if slices.Contains(o, "id") {
			if col != -1 {
				return -1, errors.New("more than one field with ,id option")
			}
			col = i
		}
	}
	return col, nil
}

// idField gets the struct field with the ",id" option.
func idField(rv reflect.Value) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		_, opt, _ := strings.Cut(rt.Field(i).Tag.Get("db"), ",")
		if slices.Contains(strings.Split(opt, ","), "id") {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func prepareRow(ctx context.Context, t Tabler) error {
	if reflect.TypeOf(t).Kind() != reflect.Pointer {
		return errors.New("t is not a pointer")
	}
	if d, ok := t.(Defaulter); ok {
		d.Defaults(ctx)
	}
	if v, ok := t.(Validator); ok {
		return v.Validate(ctx)
	}
	return nil
}

func quoteIdent(s string) string { return drivers.QuoteIdentifier(s, '"') }

// Insert all struct fields of t.
//
// Column names are taken from the db tag. Fields with the db tag set to "-" or
// with the ",noinsert" option will be skipped.
//
// If a field has the ",id" option it will be fetched with a "returning" clause
// and set. This needs PostgreSQL, SQLite 3.35, or MariaDB 10.5.
//
// The Default() and Validator() methods will be called if t satisfies the
// [Defaulter] or [Validator] interface.
//
// onConflict can contain an ON CONFLICT clause. This must include the ON
// CONFLICT text itself. For example:
//
//	zsql.Insert(ctx, e, t, "on conflict (id) do update set data = tbl.data || excluded.data")
func Insert(ctx context.Context, e *Engine, t Tabler, onConflict ...string) error {
	if err := prepareRow(ctx, t); err != nil {
		return fmt.Errorf("zsql.Insert: %w", err)
	}

	cols, vals, opts := zreflect.Fields(t, "db", "noinsert")
	idCol, err := idcol(opts)
	if err != nil {
		return fmt.Errorf("zsql.Insert: %w", err)
	}

	var (
		params  = make(P, len(cols))
		names   = make([]string, 0, len(cols))
		markers = make([]string, 0, len(cols))
		id      reflect.Value
	)
	if idCol > -1 {
		id, _ = idField(reflect.ValueOf(t).Elem())
		if !id.IsValid() || !id.IsZero() {
			return fmt.Errorf(`zsql.Insert: id field %q is not zero value but "%v"`, cols[idCol], vals[idCol])
		}
	}
	for i := range cols {
		if i == idCol {
			continue
		}
		n := "c" + strconv.Itoa(i)
		params[n] = vals[i]
		names, markers = append(names, quoteIdent(cols[i])), append(markers, "@"+n)
	}

	q := fmt.Sprintf(`insert into %s (%s) values (%s) %s`,
		quoteIdent(t.Table()), strings.Join(names, ", "), strings.Join(markers, ", "),
		strings.Join(onConflict, " "))
	if idCol > -1 {
		q = strings.TrimRight(q, " ") + " returning " + quoteIdent(cols[idCol])
	}
	cmd, err := e.Render(q, params, 0)
	if err != nil {
		return fmt.Errorf("zsql.Insert: %w", err)
	}

	if idCol == -1 {
		_, err = e.Execute(ctx, cmd)
	} else {
		var v any
		v, err = Read[any](ctx, e, cmd)
		if err == nil {
			err = setID(id, v)
		}
	}
	if err != nil {
		return fmt.Errorf("zsql.Insert: %w\n%s", err, q)
	}
	return nil
}

func setID(id reflect.Value, v any) error {
	rv := reflect.ValueOf(v)
	if b, ok := v.([]byte); ok {
		rv = reflect.ValueOf(string(b))
	}
	if !rv.IsValid() || !rv.Type().ConvertibleTo(id.Type()) {
		return fmt.Errorf("can't set %T as ID of type %s", v, id.Type())
	}
	id.Set(rv.Convert(id.Type()))
	return nil
}

// UpdateAll signals that all columns should be updated.
var UpdateAll = "\x00update\x00all\x00"

// Update all the given columns. The column names should match the name of the
// db tag.
//
// All columns in the struct wil be updated if [UpdateAll] is used as a column.
// Fields with the db tag set to "-" or with the ",noinsert" or ",readonly"
// option will be skipped.
//
// t needs to have a db tag with the ,id option set, which is used in the WHERE.
//
// The Default() and Validator() methods will be called if t satisfies the
// [Defaulter] or [Validator] interface.
func Update(ctx context.Context, e *Engine, t Tabler, columns ...string) (int64, error) {
	if len(columns) == 0 {
		return 0, errors.New("zsql.Update: no columns")
	}
	if err := prepareRow(ctx, t); err != nil {
		return 0, fmt.Errorf("zsql.Update: %w", err)
	}

	cols, vals, opts := zreflect.Fields(t, "db", "")
	idCol, err := idcol(opts)
	if err != nil {
		return 0, fmt.Errorf("zsql.Update: %w", err)
	}
	if idCol == -1 {
		return 0, errors.New("zsql.Update: no ,id column")
	}
	if reflect.ValueOf(vals[idCol]).IsZero() {
		return 0, errors.New("zsql.Update: ID column is zero value")
	}

	var (
		updateAll = len(columns) == 1 && columns[0] == UpdateAll
		params    = P{"id": vals[idCol]}
		set       []string
	)
	for i := range cols {
		if i == idCol {
			continue
		}
		if slices.Contains(opts[i], "noinsert") {
			if slices.Contains(columns, cols[i]) {
				return 0, fmt.Errorf("zsql.Update: column %q has ,noinsert", cols[i])
			}
			continue
		}
		if (updateAll && !slices.Contains(opts[i], "readonly")) || slices.Contains(columns, cols[i]) {
			n := "c" + strconv.Itoa(i)
			set, params[n] = append(set, quoteIdent(cols[i])+" = @"+n), vals[i]
		}
	}
	if len(set) == 0 {
		return 0, errors.New("zsql.Update: no columns to update")
	}

	cmd, err := e.Render(fmt.Sprintf(`update %s set %s where %s = @id`,
		quoteIdent(t.Table()), strings.Join(set, ", "), quoteIdent(cols[idCol])), params, 0)
	if err != nil {
		return 0, fmt.Errorf("zsql.Update: %w", err)
	}
	n, err := e.Execute(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("zsql.Update: %w", err)
	}
	return n, nil
}
