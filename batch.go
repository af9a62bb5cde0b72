package zsql

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Batch runs several commands with a shared timeout.
//
// The timeout of every command is the lower of its own timeout and what is
// left of the batch's timeout. Only the time spent running commands counts.
type Batch struct {
	e       *Engine
	timeout time.Duration

	mu       sync.Mutex
	elapsed  time.Duration
	affected int64
}

// ExecuteMultiple runs fn with a batch that has the given timeout, returning
// the total number of affected rows. A timeout of 0 means the batch has no
// timeout.
//
// All commands in the batch run on the same connection: fn is called with a
// context that has a Scope, unless there already is a Scope or transaction on
// the context.
func (e *Engine) ExecuteMultiple(ctx context.Context, timeout time.Duration, fn func(context.Context, *Batch) error) (int64, error) {
	if GetScope(ctx) == nil && GetTransaction(ctx) == nil {
		var s *Scope
		ctx, s = WithScope(ctx)
		defer s.Close()
	}

	b := &Batch{e: e, timeout: timeout}
	err := fn(ctx, b)
	if err != nil {
		return b.Affected(), fmt.Errorf("zsql.ExecuteMultiple: %w", err)
	}
	return b.Affected(), nil
}

// Remaining gets the remaining time; this may be negative if the budget was
// exceeded. It's always 0 if the batch has no timeout.
func (b *Batch) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timeout == 0 {
		return 0
	}
	return b.timeout - b.elapsed
}

// Affected gets the total number of affected rows so far.
func (b *Batch) Affected() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.affected
}

// Timeout gets the timeout to use for a command.
func (b *Batch) Timeout(cmd *Command) time.Duration {
	if b.timeout == 0 {
		return cmd.Timeout
	}
	left := b.Remaining()
	if left <= 0 {
		// 0 means "no timeout" for commands; this should fail right away.
		return -1
	}
	if cmd.Timeout > 0 && cmd.Timeout < left {
		return cmd.Timeout
	}
	return left
}

// Execute a command as part of the batch.
//
// The command's Timeout is set to the timeout it ran with.
func (b *Batch) Execute(ctx context.Context, cmd *Command) (int64, error) {
	cmd.Timeout = b.Timeout(cmd)

	start := time.Now()
	n, err := b.e.Execute(ctx, cmd)
	b.mu.Lock()
	b.elapsed += time.Since(start)
	b.affected += n
	b.mu.Unlock()
	return n, err
}

// Query all rows from a command as part of the batch.
func BatchQuery[T any](ctx context.Context, b *Batch, cmd *Command) ([]T, error) {
	cmd.Timeout = b.Timeout(cmd)

	start := time.Now()
	l, err := Query[T](ctx, b.e, cmd)
	b.mu.Lock()
	b.elapsed += time.Since(start)
	b.mu.Unlock()
	return l, err
}
