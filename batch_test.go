package zsql

import (
	"context"
	"errors"
	"testing"
	"time"

	"zgo.at/zsql/drivers/test"
)

func TestBatchTimeout(t *testing.T) {
	tests := []struct {
		budget, elapsed, cmd, want time.Duration
	}{
		{0, 0, 0, 0},
		{0, time.Hour, time.Second, time.Second},
		{time.Second, 0, 0, time.Second},
		{time.Second, 400 * time.Millisecond, 0, 600 * time.Millisecond},
		{time.Second, 400 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond},
		{time.Second, 400 * time.Millisecond, time.Hour, 600 * time.Millisecond},
		{time.Second, time.Second, 0, -1},
		{time.Second, 2 * time.Second, time.Second, -1},
	}
	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			b := &Batch{timeout: tt.budget, elapsed: tt.elapsed}
			if have := b.Timeout(&Command{Timeout: tt.cmd}); have != tt.want {
				t.Errorf("have %s; want %s", have, tt.want)
			}
		})
	}
}

func TestExecuteMultiple(t *testing.T) {
	ctx, e := startTest(t)
	test.Script(`update a`, test.Response{Affected: 2})
	test.Script(`update b`, test.Response{Affected: 3})
	test.Script(`select n from nums`, test.Response{Results: []test.Result{{
		Columns: []string{"n"}, Types: []string{"INT"}, Rows: ints(1, 2),
	}}})

	n, err := e.ExecuteMultiple(ctx, time.Minute, func(ctx context.Context, b *Batch) error {
		if GetScope(ctx) == nil {
			t.Error("no scope")
		}
		if _, err := b.Execute(ctx, &Command{Text: `update a`}); err != nil {
			return err
		}
		nums, err := BatchQuery[int](ctx, b, &Command{Text: `select n from nums`})
		if err != nil {
			return err
		}
		if len(nums) != 2 {
			t.Errorf("%v", nums)
		}
		_, err = b.Execute(ctx, &Command{Text: `update b`})
		if r := b.Remaining(); r <= 0 || r > time.Minute {
			t.Errorf("remaining: %s", r)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("affected: %d", n)
	}
	if have := len(test.Calls()); have != 3 {
		t.Errorf("%d calls", have)
	}
}

func TestExecuteMultipleBudget(t *testing.T) {
	ctx, e := startTest(t)
	test.Script(`update slow`, test.Response{Affected: 1, Delay: 60 * time.Millisecond})

	var timeouts []time.Duration
	n, err := e.ExecuteMultiple(ctx, 100*time.Millisecond, func(ctx context.Context, b *Batch) error {
		for range 3 {
			cmd := &Command{Text: `update slow`}
			_, err := b.Execute(ctx, cmd)
			timeouts = append(timeouts, cmd.Timeout)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wrong error: %v", err)
	}
	if n != 1 {
		t.Errorf("affected: %d", n)
	}
	if len(timeouts) != 2 || timeouts[0] != 100*time.Millisecond || timeouts[1] >= 50*time.Millisecond {
		t.Errorf("timeouts: %v", timeouts)
	}
}

func TestExecuteMultipleExpired(t *testing.T) {
	ctx, e := startTest(t)

	_, err := e.ExecuteMultiple(ctx, time.Second, func(ctx context.Context, b *Batch) error {
		b.elapsed = 2 * time.Second
		_, err := b.Execute(ctx, &Command{Text: `update a`})
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wrong error: %v", err)
	}
	if have := len(test.Calls()); have != 0 {
		t.Errorf("%d calls", have)
	}
}
