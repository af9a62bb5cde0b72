package mysql

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"zgo.at/zsql/drivers"
)

func TestErrUnqiue(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&mysql.MySQLError{}, false},
		{&mysql.MySQLError{Number: 1061}, false},
		{&mysql.MySQLError{Number: 1062}, true},
		{fmt.Errorf("X: %w", &mysql.MySQLError{Number: 1062}), true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			out := driver{}.ErrUnique(tt.err)
			if out != tt.want {
				t.Errorf("out: %t; want: %t", out, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	buf := new(bytes.Buffer)
	err := writeCSV(buf, [][]any{
		{1, "a,b", nil},
		{int64(2), `x"y\z`, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{true, []byte("bytes"), 1.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "1,\"a,b\",\\N\n" +
		"2,\"x\"\"y\\\\z\",2024-06-01 12:30:00\n" +
		"1,bytes,1.5\n"
	if have := buf.String(); have != want {
		t.Errorf("\nhave: %q\nwant: %q", have, want)
	}
}

func TestLoadStmt(t *testing.T) {
	have := loadStmt(&drivers.Table{Name: "tbl", Columns: []string{"a", "b"}}, "r")
	want := `load data local infile 'Reader::r' into table "tbl" character set utf8mb4 fields terminated by ',' optionally enclosed by '"' escaped by '\\' lines terminated by '\n' ("a","b")`
	if have != want {
		t.Errorf("\nhave: %s\nwant: %s", have, want)
	}
}

func TestConfig(t *testing.T) {
	cfg, err := config("root@unix(/tmp/x.sock)/db")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.ParseTime || cfg.DBName != "db" || cfg.Params["sql_mode"] == "" {
		t.Errorf("%#v", cfg)
	}

	cfg, err = config("root@unix(/tmp/x.sock)/db?sql_mode=traditional")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Params["sql_mode"] != "traditional" {
		t.Errorf("sql_mode overridden: %q", cfg.Params["sql_mode"])
	}
}
