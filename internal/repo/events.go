package repo

import (
	"context"
	"database/sql"

	"rewardjar/internal/domain"
)

const eventColumns = `id, ts, type, COALESCE(request_id,''), actor_id, COALESCE(payload_json,'')`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit events with an id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+eventColumns+` FROM wallet_events WHERE id>? ORDER BY id ASC LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM wallet_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// RequestEvents returns the event history of one wallet request.
func (r Repo) RequestEvents(ctx context.Context, requestID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+eventColumns+` FROM wallet_events WHERE request_id=? ORDER BY id ASC`), requestID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}
