package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cartie/cartie/internal/config"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "wrapped unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "fk violation", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		if got := IsUniqueViolation(tc.err); got != tc.want {
			t.Fatalf("%s: want %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to match")
	}
	if IsNoRows(errors.New("other")) {
		t.Fatal("unexpected match")
	}
}

func TestParseUUID(t *testing.T) {
	t.Parallel()

	id, err := ParseUUID(" 2b0d7b3d-cc43-4b4a-9d0f-9e1b6a6e2c11 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Valid {
		t.Fatal("expected valid uuid")
	}
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	got := migrateURL(config.PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "cartie", SSLMode: "disable"})
	want := "pgx5://u:p@db:5432/cartie?sslmode=disable"
	if got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}
