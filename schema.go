package zsql

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Load a query template from the Files passed to Connect.
//
// A dialect-specific file is used if it exists; for example "select-x" will
// load "select-x-sqlite.sql" for SQLite and "select-x.sql" if that doesn't
// exist.
//
// Comments at the start of lines are removed, and a comment with the name is
// added at the start, so it's easier to see in logs where a query came from.
func (e *Engine) Load(name string) (string, error) {
	if e.files == nil {
		return "", errors.New("zsql.Load: Files not set")
	}

	name = strings.TrimSuffix(name, ".sql")
	q, err := e.findFile(name)
	if err != nil {
		return "", fmt.Errorf("zsql.Load: %w", err)
	}

	var b strings.Builder
	b.WriteString("/* ")
	b.WriteString(name)
	b.WriteString(" */\n")
	for _, line := range bytes.Split(bytes.TrimSpace(q), []byte("\n")) {
		if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("--")) {
			b.Write(line)
			b.WriteRune('\n')
		}
	}
	return b.String(), nil
}

// Create the database schema from "schema.sql" in Files; this is run
// automatically by Connect when the database is created.
func (e *Engine) Create(ctx context.Context) error {
	if e.files == nil {
		return errors.New("zsql.Create: Files not set")
	}
	s, err := e.findFile("schema")
	if err != nil {
		return fmt.Errorf("zsql.Create: %w", err)
	}
	_, err = e.Execute(ctx, &Command{Text: string(s)})
	if err != nil {
		return fmt.Errorf("zsql.Create: %w", err)
	}
	return nil
}

func (e *Engine) findFile(name string) ([]byte, error) {
	paths := []string{name + ".sql"}
	if e.dialect != DialectUnknown {
		paths = append([]string{name + "-" + strings.ToLower(e.dialect.String()) + ".sql"}, paths...)
	}
	for _, p := range paths {
		b, err := fs.ReadFile(e.files, p)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not find %q", strings.Join(paths, ", "))
}
