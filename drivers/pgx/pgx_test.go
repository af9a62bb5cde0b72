package pgx

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrUnqiue(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
		want  bool
	}{
		{&pgconn.PgError{}, driver{}.ErrUnique, false},
		{&pgconn.PgError{Code: "123"}, driver{}.ErrUnique, false},
		{&pgconn.PgError{Code: "23505"}, driver{}.ErrUnique, true},
		{fmt.Errorf("X: %w", &pgconn.PgError{Code: "23505"}), driver{}.ErrUnique, true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			out := tt.check(tt.err)
			if out != tt.want {
				t.Errorf("out: %t; want: %t", out, tt.want)
			}
		})
	}
}

func TestWithSearchPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"pgx+", "pgx+ search_path=x"},
		{"pgx+dbname=a", "pgx+dbname=a search_path=x"},
		{"pgx+postgres://localhost/a", "pgx+postgres://localhost/a?search_path=x"},
		{"pgx+postgres://localhost/a?sslmode=disable", "pgx+postgres://localhost/a?sslmode=disable&search_path=x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			have := withSearchPath(tt.in, "x")
			if have != tt.want {
				t.Errorf("\nhave: %q\nwant: %q", have, tt.want)
			}
		})
	}
}
