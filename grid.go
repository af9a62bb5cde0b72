package zsql

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"
)

// Grid reads multiple result sets from a single command.
//
// Results are read in order and every result can be read only once; reading a
// result (or skipping it) moves to the next one. The resources are released
// once all results are read, or when Close is called.
type Grid struct {
	cmd     *Command
	rows    *sql.Rows
	cancel  context.CancelFunc
	release func()

	mu      sync.Mutex
	index   int  // Index of the current result.
	more    bool // There is a current result.
	reading bool // Current result is being iterated.
	closed  bool
}

// QueryMultiple runs a command which returns multiple result sets.
func (e *Engine) QueryMultiple(ctx context.Context, cmd *Command) (*Grid, error) {
	rows, cancel, release, err := e.queryParts(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("zsql.QueryMultiple: %w", err)
	}
	return &Grid{cmd: cmd, rows: rows, cancel: cancel, release: release, more: true}, nil
}

// Index gets the index of the current result, starting at 0.
func (g *Grid) Index() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index
}

// Done reports if all results have been read.
func (g *Grid) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.more
}

// take the current result for reading.
func (g *Grid) take() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.more || g.reading || g.closed {
		return ErrGridOrder
	}
	g.reading = true
	return nil
}

// advance to the next result, closing the grid if this was the last one.
func (g *Grid) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.reading = false
	g.index++
	g.more = g.rows.NextResultSet()
	if !g.more {
		g.closeLocked()
	}
}

// Skip the current result.
func (g *Grid) Skip() error {
	if err := g.take(); err != nil {
		return fmt.Errorf("zsql.Grid.Skip: %w", err)
	}
	g.advance()
	return nil
}

// Close the grid; this cancels the command if it's still running.
//
// It's safe to call this more than once.
func (g *Grid) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeLocked()
}

func (g *Grid) closeLocked() error {
	if g.closed {
		return nil
	}
	g.closed, g.more = true, false
	g.cancel()
	err := g.rows.Close()
	g.release()
	return err
}

// GridQuery reads all rows of the current result.
func GridQuery[T any](g *Grid) ([]T, error) {
	if err := g.take(); err != nil {
		return nil, fmt.Errorf("zsql.GridQuery: %w", err)
	}
	defer g.advance()

	l, err := collect[T](g.rows)
	if err != nil {
		return nil, fmt.Errorf("zsql.GridQuery: %w", err)
	}
	return l, nil
}

// GridRead reads one row from the current result with the given row style; the
// rest of the result is skipped.
func GridRead[T any](g *Grid, style RowStyle) (T, error) {
	if err := g.take(); err != nil {
		var zero T
		return zero, fmt.Errorf("zsql.GridRead: %w", err)
	}
	defer g.advance()

	v, err := readRow[T](g.rows, g.cmd, style)
	if err != nil {
		return v, fmt.Errorf("zsql.GridRead: %w", err)
	}
	return v, nil
}

// GridIter reads the current result lazily. The grid moves to the next result
// when the iteration ends, also if it's stopped early.
//
// Reading from the grid while iterating returns ErrGridOrder.
func GridIter[T any](g *Grid) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if err := g.take(); err != nil {
			var zero T
			yield(zero, fmt.Errorf("zsql.GridIter: %w", err))
			return
		}
		defer g.advance()

		for v, err := range iterRows[T](g.rows) {
			if err != nil {
				err = fmt.Errorf("zsql.GridIter: %w", err)
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}
