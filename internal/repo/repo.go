package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"rewardjar/internal/db"
	"rewardjar/internal/domain"
)

// Repo is the SQL data-access layer. It is safe to copy.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = domain.ErrNotFound

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

func (r Repo) conn(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int, set bool) any {
	if !set {
		return nil
	}
	return v
}

func marshalMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return map[string]string{"_raw": raw.String}
	}
	return m
}

func notFound(entity, id string) error {
	return domain.NotFoundError{Entity: entity, ID: id}
}
