package zsql

import (
	"errors"
	"fmt"

	"zgo.at/zsql/internal/mapper"
)

var (
	// ErrMissingParam is returned when a query refers to a parameter that
	// isn't set.
	ErrMissingParam = errors.New("missing parameter")

	// ErrNoElements is returned by Read if there are no rows with a row style
	// that requires at least one.
	ErrNoElements = errors.New("sequence contains no elements")

	// ErrMultipleElements is returned by Read for Single and SingleOrDefault
	// if there is more than one row.
	ErrMultipleElements = errors.New("sequence contains more than one element")

	// ErrTransactionStarted is returned by Begin when there is already a
	// transaction on the context.
	ErrTransactionStarted = errors.New("transaction already started")

	// ErrTransactionDone is returned when using a transaction that was already
	// committed or rolled back.
	ErrTransactionDone = errors.New("transaction has already been committed or rolled back")

	// ErrGridOrder is returned when reading a grid while there is no result
	// ready: all results were read, or the previous one is still being read.
	ErrGridOrder = errors.New("grid results must be read in order and one at a time")

	ErrNoTable        = errors.New("bulk copy without a table name")
	ErrNoProcedures   = errors.New("stored procedures are not supported")
	ErrConnClosed     = errors.New("connection is closed")
	ErrConnConnecting = errors.New("connection is still connecting")
)

// KeyNotFoundError is returned by Render if a literal substitution ({=name})
// refers to a parameter that isn't set.
type KeyNotFoundError struct{ Name string }

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("literal substitution {=%s}: key not found in parameters", e.Name)
}

// NotEnumerableError is returned by Render if a parameter in an IN-list is not
// a slice or array.
type NotEnumerableError struct {
	Name string
	Type string
}

func (e *NotEnumerableError) Error() string {
	return fmt.Sprintf("parameter %q is used as a list but is %s", e.Name, e.Type)
}

// NoElementError is returned by Read if there are no rows and the command has
// a custom error message set.
type NoElementError struct{ Message string }

func (e *NoElementError) Error() string { return e.Message }
func (e *NoElementError) Unwrap() error { return ErrNoElements }

// Errors from the mapper.
type (
	OutOfRangeError         = mapper.OutOfRangeError
	UnsupportedMappingError = mapper.UnsupportedMappingError
)
