package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rewardjar/internal/db"
	"rewardjar/internal/domain"
)

const (
	RequestEnqueued   = "wallet.request.enqueued"
	RequestCoalesced  = "wallet.request.coalesced"
	RequestClaimed    = "wallet.request.claimed"
	RequestCompleted  = "wallet.request.completed"
	RequestFailed     = "wallet.request.failed"
	RequestRetried    = "wallet.request.retried"
	RequestDeadLetter = "wallet.request.dead_lettered"
	RequestForced     = "wallet.request.forced"
	RequestCancelled  = "wallet.request.cancelled"
	RequestReaped     = "wallet.request.reaped"
	RequestsPurged    = "wallet.requests.purged"
	CardProgressed    = "card.progressed"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, requestID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.FormatTime(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO wallet_events(ts,type,request_id,actor_id,payload_json) VALUES (?,?,?,?,?)`),
		ts, evtType, nullable(requestID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
