package mysql

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"zgo.at/zsql/drivers"
)

func (driver) BulkCopy(s drivers.Session) drivers.BulkCopy { return &loadData{s: s} }

// loadData writes rows with LOAD DATA LOCAL INFILE, streaming the rows as CSV
// through a reader handler.
type loadData struct {
	s       drivers.Session
	timeout time.Duration
}

func (c *loadData) SetTimeout(d time.Duration) { c.timeout = d }

func loadStmt(t *drivers.Table, reader string) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = drivers.QuoteIdentifier(c, '"')
	}
	return fmt.Sprintf(`load data local infile 'Reader::%s' into table %s `+
		`character set utf8mb4 fields terminated by ',' optionally enclosed by '"' escaped by '\\' `+
		`lines terminated by '\n' (%s)`,
		reader, drivers.QuoteIdentifier(t.Name, '"'), strings.Join(cols, ","))
}

func (c *loadData) WriteToServer(ctx context.Context, t *drivers.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, cancel := drivers.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := "zsql-" + uuid.NewString()
	pr, pw := io.Pipe()
	mysql.RegisterReaderHandler(name, func() io.Reader { return pr })
	defer mysql.DeregisterReaderHandler(name)

	go func() { pw.CloseWithError(writeCSV(pw, t.Rows)) }()

	_, err := c.s.ExecContext(ctx, loadStmt(t, name))
	pr.Close()
	if err != nil {
		return fmt.Errorf("mysql.LoadData: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, rows [][]any) error {
	cw := csv.NewWriter(w)
	rec := make([]string, 0, 8)
	for _, r := range rows {
		rec = rec[:0]
		for _, v := range r {
			rec = append(rec, csvField(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvField formats a value for LOAD DATA; \N is NULL.
func csvField(v any) string {
	switch vv := v.(type) {
	case nil:
		return `\N`
	case string:
		return escape(vv)
	case []byte:
		return escape(string(vv))
	case bool:
		if vv {
			return "1"
		}
		return "0"
	case time.Time:
		return vv.Format("2006-01-02 15:04:05.999999")
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	}
	return escape(fmt.Sprint(v))
}

func escape(s string) string { return strings.ReplaceAll(s, `\`, `\\`) }
