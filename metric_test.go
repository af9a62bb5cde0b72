package zsql

import (
	"context"
	"strings"
	"testing"
)

func TestMetricsMemory(t *testing.T) {
	record := NewMetricsMemory(0)
	ctx, e := startTest(t, ConnectOptions{Metrics: record})

	for _, q := range []string{"select 1", "select 2", "select 1"} {
		if _, err := Query[int](ctx, e, &Command{Text: q}); err != nil {
			t.Fatal(err)
		}
	}
	err := TX(ctx, func(ctx context.Context) error {
		_, err := e.Execute(ctx, &Command{Text: "select 1"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	times := make(map[string]int)
	for _, c := range record.Commands() {
		times[c.Command] = len(c.Times.List())
	}
	if len(times) != 2 || times["select 1"] != 3 || times["select 2"] != 1 {
		t.Errorf("%v", times)
	}

	if s := record.String(); !strings.Contains(s, `Command "select 1":`) || !strings.Contains(s, "Run time:") {
		t.Errorf("\n%s", s)
	}

	record.Reset()
	if l := record.Commands(); len(l) != 0 {
		t.Errorf("%v", l)
	}
}

func TestMetricsBulk(t *testing.T) {
	record := NewMetricsMemory(10)
	ctx, e := startTest(t, ConnectOptions{Metrics: record})

	err := e.WriteToServer(ctx, &Table{Name: "t", Columns: []string{"a"}, Rows: [][]any{{1}}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	l := record.Commands()
	if len(l) != 1 || l[0].Command != "bulk copy t" {
		t.Errorf("%v", l)
	}
}
