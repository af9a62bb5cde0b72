package zsql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type sqlitePlan struct {
	Positional
	ID, Parent, Notused int
	Detail              string
}

// Explain gets the query plan for a command.
//
// For PostgreSQL this uses "explain analyze", which will actually run the
// command. Note that data modification statements are *also* run!
func (e *Engine) Explain(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Kind == KindProcedure {
		return "", errors.New("zsql.Explain: can't explain a stored procedure")
	}

	explain := *cmd
	switch e.dialect {
	case DialectPostgreSQL:
		explain.Text = "explain analyze " + cmd.Text
		lines, err := Query[string](ctx, e, &explain)
		if err != nil {
			return "", fmt.Errorf("zsql.Explain: %w", err)
		}
		return "\t" + strings.Join(lines, "\n\t"), nil

	case DialectSQLite:
		explain.Text = "explain query plan " + cmd.Text
		s := time.Now()
		plan, err := Query[sqlitePlan](ctx, e, &explain)
		if err != nil {
			return "", fmt.Errorf("zsql.Explain: %w", err)
		}
		b := new(strings.Builder)
		for _, p := range plan {
			b.WriteString("\t" + p.Detail + "\n")
		}
		b.WriteString("\tTime: " + time.Since(s).Round(time.Millisecond).String())
		return b.String(), nil

	default:
		explain.Text = "explain " + cmd.Text
		cols, rows, err := e.rowsAsAny(ctx, &explain)
		if err != nil {
			return "", fmt.Errorf("zsql.Explain: %w", err)
		}
		b := new(strings.Builder)
		dumpTable(b, cols, rows, false)
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
