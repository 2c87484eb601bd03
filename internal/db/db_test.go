package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	q := `UPDATE wallet_requests SET status=?, error_message='why?' WHERE id=? AND status=?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite query should be unchanged, got %s", got)
	}
	want := `UPDATE wallet_requests SET status=$1, error_message='why?' WHERE id=$2 AND status=$3`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("unexpected postgres query:\n%s", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: wallet_requests.dedupe_key (2067)")) {
		t.Fatalf("sqlite unique error not detected")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("postgres unique error not detected")
	}
	if IsUniqueViolation(errors.New("database is locked")) || IsUniqueViolation(nil) {
		t.Fatalf("false positive")
	}
}

func TestConfigDialect(t *testing.T) {
	if (Config{}).Dialect() != SQLite {
		t.Fatalf("default should be sqlite")
	}
	if (Config{Driver: "postgres"}).Dialect() != Postgres {
		t.Fatalf("postgres driver not detected")
	}
}
