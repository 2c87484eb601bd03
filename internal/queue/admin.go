package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/events"
	"rewardjar/internal/repo"
	"rewardjar/internal/wallet"
)

// Bulk actions accepted by the admin queue endpoint and the CLI.
const (
	ActionRetry          = "retry"
	ActionForce          = "force"
	ActionFail           = "fail"
	ActionCancel         = "cancel"
	ActionClearCompleted = "clear_completed"
	ActionClearFailed    = "clear_failed"
	ActionReapStale      = "reap_stale"
)

// ItemResult is the outcome of a bulk action on one request.
type ItemResult struct {
	ID     string               `json:"id"`
	OK     bool                 `json:"ok"`
	Status domain.RequestStatus `json:"status,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

func (s Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.Repo.CountRequestsByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Pending:    counts[domain.StatusPending],
		Processing: counts[domain.StatusProcessing],
		Completed:  counts[domain.StatusCompleted],
		Failed:     counts[domain.StatusFailed],
		Cancelled:  counts[domain.StatusCancelled],
		DeadLetter: counts[domain.StatusDeadLetter],
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Retry moves a failed request back to pending. The retry count grows by one
// and the next attempt is delayed by the backoff for that count. A request
// that already used max_retries goes to dead_letter instead. When the tuple
// already has a pending request, the retry coalesces into it and the failed
// request is left as is.
func (s Service) Retry(ctx context.Context, id, priority, actorID string) (domain.WalletRequest, error) {
	var prio domain.Priority
	if priority != "" {
		p, err := domain.ParsePriority(priority)
		if err != nil {
			return domain.WalletRequest{}, err
		}
		prio = p
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	defer tx.Rollback()
	req, err := s.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	if req.Status != domain.StatusFailed {
		return domain.WalletRequest{}, domain.TransitionError{From: req.Status, To: domain.StatusPending}
	}
	now := s.now()
	ts := domain.FormatTime(now)
	sibling, err := s.Repo.FindPending(ctx, tx, domain.DedupeKey(req.CardID, req.CustomerID, req.Platform))
	switch {
	case err == nil:
		return s.coalesceRetry(ctx, tx, req, sibling, prio, actorID, ts)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.WalletRequest{}, err
	}
	attempt := req.RetryCount + 1
	var (
		u       = updateFrom(req, domain.StatusPending, ts)
		evtType = events.RequestRetried
		payload = events.EventPayload{"retry_count": attempt}
	)
	if attempt > s.Config.MaxRetries {
		u.Status = domain.StatusDeadLetter
		u.ProcessedAt = ts
		evtType = events.RequestDeadLetter
		payload = events.EventPayload{"retry_count": req.RetryCount, "max_retries": s.Config.MaxRetries}
	} else {
		delay := Backoff(s.Config.BackoffBase, s.Config.BackoffMax, attempt)
		u.RetryCount = attempt
		u.ErrorMessage = ""
		u.StartedAt = ""
		u.ProcessedAt = ""
		u.NextAttemptAt = domain.FormatTime(now.Add(delay))
		if prio != "" {
			u.Priority = prio
		}
		payload["next_attempt_at"] = u.NextAttemptAt
		payload["priority"] = string(u.Priority)
	}
	if ok, err := s.Repo.UpdateRequest(ctx, tx, u); err != nil || !ok {
		return domain.WalletRequest{}, guardErr(err, req.Status, u.Status)
	}
	if err := s.Events.Append(ctx, tx, evtType, id, actorID, payload); err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	if u.Status == domain.StatusPending {
		s.notify()
	}
	return s.Repo.GetRequest(ctx, id)
}

func (s Service) coalesceRetry(ctx context.Context, tx *sql.Tx, failed, sibling domain.WalletRequest, prio domain.Priority, actorID, ts string) (domain.WalletRequest, error) {
	if prio == "" {
		prio = failed.Priority
	}
	u := updateFrom(sibling, domain.StatusPending, ts)
	if prio.Rank() < sibling.Priority.Rank() {
		u.Priority = prio
	}
	ok, err := s.Repo.UpdateRequest(ctx, tx, u)
	if err != nil {
		return domain.WalletRequest{}, fmt.Errorf("coalesce retry: %w", err)
	}
	if !ok {
		return domain.WalletRequest{}, fmt.Errorf("request %s left pending while coalescing", sibling.ID)
	}
	if err := s.Events.Append(ctx, tx, events.RequestCoalesced, sibling.ID, actorID, events.EventPayload{
		"priority":     string(u.Priority),
		"retried_from": failed.ID,
	}); err != nil {
		return domain.WalletRequest{}, err
	}
	req, err := s.Repo.GetRequestTx(ctx, tx, sibling.ID)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	return req, nil
}

// Force marks a request completed without rendering it. The reason code is
// stored on the request and in the event log.
func (s Service) Force(ctx context.Context, id, reason, actorID string) (domain.WalletRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.WalletRequest{}, domain.ValidationError{Field: "reason", Reason: "force requires a reason code"}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	defer tx.Rollback()
	req, err := s.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	if err := domain.EnsureTransition(req.Status, domain.StatusCompleted); err != nil {
		return domain.WalletRequest{}, err
	}
	now := domain.FormatTime(s.now())
	u := updateFrom(req, domain.StatusCompleted, now)
	u.ForceReason = reason
	u.ErrorMessage = ""
	u.ProcessedAt = now
	if ok, err := s.Repo.UpdateRequest(ctx, tx, u); err != nil || !ok {
		return domain.WalletRequest{}, guardErr(err, req.Status, domain.StatusCompleted)
	}
	if err := s.Events.Append(ctx, tx, events.RequestForced, id, actorID, events.EventPayload{"reason": reason, "from": string(req.Status)}); err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	return s.Repo.GetRequest(ctx, id)
}

// MarkFailed fails a pending or processing request on operator request.
func (s Service) MarkFailed(ctx context.Context, id, reason, actorID string) (domain.WalletRequest, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "marked failed by operator"
	}
	return s.toFailed(ctx, id, []domain.RequestStatus{domain.StatusPending, domain.StatusProcessing}, reason, events.RequestFailed, actorID)
}

// Purge deletes requests in status whose last update is older than age.
func (s Service) Purge(ctx context.Context, status domain.RequestStatus, age time.Duration, actorID string) (int64, error) {
	if !status.Terminal() {
		return 0, domain.ValidationError{Field: "status", Reason: "only terminal requests can be purged"}
	}
	if age < 0 {
		return 0, domain.ValidationError{Field: "age", Reason: "must not be negative"}
	}
	cutoff := domain.FormatTime(s.now().Add(-age))
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := s.Repo.DeleteRequestsBefore(ctx, tx, status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge %s requests: %w", status, err)
	}
	if err := s.Events.Append(ctx, tx, events.RequestsPurged, "", actorID, events.EventPayload{
		"status": string(status), "before": cutoff, "deleted": n,
	}); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// ClearCompleted purges completed requests older than the configured retention.
func (s Service) ClearCompleted(ctx context.Context, actorID string) (int64, error) {
	return s.Purge(ctx, domain.StatusCompleted, s.Config.CompletedRetention, actorID)
}

// ClearFailed purges failed requests older than the configured retention.
func (s Service) ClearFailed(ctx context.Context, actorID string) (int64, error) {
	return s.Purge(ctx, domain.StatusFailed, s.Config.FailedRetention, actorID)
}

// ReapStale fails processing requests whose worker has not finished within
// stale_after, which releases their tuple for new work.
func (s Service) ReapStale(ctx context.Context) ([]ItemResult, error) {
	if s.Config.StaleAfter <= 0 {
		return nil, nil
	}
	cutoff := domain.FormatTime(s.now().Add(-s.Config.StaleAfter))
	stale, err := s.Repo.ProcessingStartedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("worker did not finish within %s", s.Config.StaleAfter)
	var res []ItemResult
	for _, req := range stale {
		r := s.result(s.toFailed(ctx, req.ID, []domain.RequestStatus{domain.StatusProcessing}, msg, events.RequestReaped, ""))
		r.ID = req.ID
		res = append(res, r)
	}
	return res, nil
}

func (s Service) result(req domain.WalletRequest, err error) ItemResult {
	if err != nil {
		return ItemResult{ID: req.ID, Error: err.Error()}
	}
	return ItemResult{ID: req.ID, OK: true, Status: req.Status}
}

// BulkRequest is an operator action over a set of requests.
type BulkRequest struct {
	Action   string
	IDs      []string
	Priority string
	Reason   string
	ActorID  string
}

// BulkResult reports each item separately; one failing item does not stop the others.
type BulkResult struct {
	Action  string       `json:"action"`
	Message string       `json:"message"`
	Results []ItemResult `json:"results"`
	Purged  int64        `json:"purged,omitempty"`
	Stats   Stats        `json:"stats"`
}

func (s Service) Bulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	out := BulkResult{Action: req.Action, Results: []ItemResult{}}
	var apply func(id string) (domain.WalletRequest, error)
	switch req.Action {
	case ActionRetry:
		apply = func(id string) (domain.WalletRequest, error) { return s.Retry(ctx, id, req.Priority, req.ActorID) }
	case ActionForce:
		if strings.TrimSpace(req.Reason) == "" {
			return out, domain.ValidationError{Field: "reason", Reason: "force requires a reason code"}
		}
		apply = func(id string) (domain.WalletRequest, error) { return s.Force(ctx, id, req.Reason, req.ActorID) }
	case ActionFail:
		apply = func(id string) (domain.WalletRequest, error) { return s.MarkFailed(ctx, id, req.Reason, req.ActorID) }
	case ActionCancel:
		apply = func(id string) (domain.WalletRequest, error) { return s.Cancel(ctx, id, req.ActorID) }
	case ActionClearCompleted, ActionClearFailed:
		var err error
		if req.Action == ActionClearCompleted {
			out.Purged, err = s.ClearCompleted(ctx, req.ActorID)
		} else {
			out.Purged, err = s.ClearFailed(ctx, req.ActorID)
		}
		if err != nil {
			return out, err
		}
		out.Message = fmt.Sprintf("removed %d requests", out.Purged)
	case ActionReapStale:
		res, err := s.ReapStale(ctx)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, res...)
		out.Message = fmt.Sprintf("reaped %d stale requests", len(res))
	default:
		return out, domain.ValidationError{Field: "action", Reason: "must be one of retry, force, fail, cancel, clear_completed, clear_failed, reap_stale"}
	}
	if apply != nil {
		if len(req.IDs) == 0 {
			return out, domain.ValidationError{Field: "ids", Reason: "at least one id is required"}
		}
		ok := 0
		for _, id := range req.IDs {
			if err := wallet.ValidateID("id", id); err != nil {
				out.Results = append(out.Results, ItemResult{ID: id, Error: err.Error()})
				continue
			}
			r := s.result(apply(id))
			r.ID = id
			if r.OK {
				ok++
			}
			out.Results = append(out.Results, r)
		}
		out.Message = fmt.Sprintf("%s: %d of %d succeeded", req.Action, ok, len(req.IDs))
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return out, err
	}
	out.Stats = st
	return out, nil
}
