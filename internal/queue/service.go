// Package queue owns the lifecycle of wallet generation requests: enqueue,
// claim, completion, operator actions and health reporting.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rewardjar/internal/config"
	"rewardjar/internal/db"
	"rewardjar/internal/domain"
	"rewardjar/internal/events"
	"rewardjar/internal/repo"
	"rewardjar/internal/wallet"
)

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config config.QueueConfig
	Now    func() time.Time
	// Notify, when set, is called after a request becomes claimable.
	Notify func()
}

func New(conn *sql.DB, dialect db.Dialect, cfg config.QueueConfig) Service {
	return Service{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect, Now: time.Now},
		Config: cfg,
		Now:    time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) notify() {
	if s.Notify != nil {
		s.Notify()
	}
}

// EnqueueOptions are the parameters of a wallet generation request. CardID
// is the card template; CustomerID is optional and selects the customer's card.
type EnqueueOptions struct {
	CardID     string
	CustomerID string
	Platform   string
	Priority   string
	Metadata   map[string]string
	Source     string
	ActorID    string
}

// Enqueue records a pending request. When the tuple already has a pending
// request the two are coalesced: the existing row keeps its id, takes the
// higher priority and the merged metadata.
func (s Service) Enqueue(ctx context.Context, opts EnqueueOptions) (domain.WalletRequest, bool, error) {
	platform, err := domain.ParsePlatform(opts.Platform)
	if err != nil {
		return domain.WalletRequest{}, false, err
	}
	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return domain.WalletRequest{}, false, err
	}
	if err := wallet.ValidateID("cardId", opts.CardID); err != nil {
		return domain.WalletRequest{}, false, err
	}
	if _, err := s.Repo.GetTemplate(ctx, opts.CardID); err != nil {
		return domain.WalletRequest{}, false, err
	}
	var customerCardID string
	if opts.CustomerID != "" {
		if err := wallet.ValidateID("customerId", opts.CustomerID); err != nil {
			return domain.WalletRequest{}, false, err
		}
		card, err := s.Repo.FindCustomerCard(ctx, opts.CardID, opts.CustomerID)
		if err != nil {
			return domain.WalletRequest{}, false, err
		}
		customerCardID = card.ID
	}

	for attempt := 0; ; attempt++ {
		req, coalesced, err := s.enqueueTx(ctx, opts, platform, priority, customerCardID)
		if err != nil && db.IsUniqueViolation(err) && attempt == 0 {
			// Lost a race with a concurrent enqueue of the same tuple; coalesce into it.
			continue
		}
		if err == nil {
			s.notify()
		}
		return req, coalesced, err
	}
}

func (s Service) enqueueTx(ctx context.Context, opts EnqueueOptions, platform domain.Platform, priority domain.Priority, customerCardID string) (domain.WalletRequest, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WalletRequest{}, false, err
	}
	defer tx.Rollback()

	now := domain.FormatTime(s.now())
	existing, err := s.Repo.FindPending(ctx, tx, domain.DedupeKey(opts.CardID, opts.CustomerID, platform))
	switch {
	case err == nil:
		u := updateFrom(existing, domain.StatusPending, now)
		if priority.Rank() < existing.Priority.Rank() {
			u.Priority = priority
		}
		u.Metadata = mergeMetadata(existing.Metadata, opts.Metadata)
		ok, err := s.Repo.UpdateRequest(ctx, tx, u)
		if err != nil {
			return domain.WalletRequest{}, false, fmt.Errorf("coalesce request: %w", err)
		}
		if !ok {
			return domain.WalletRequest{}, false, fmt.Errorf("request %s left pending while coalescing", existing.ID)
		}
		if err := s.Events.Append(ctx, tx, events.RequestCoalesced, existing.ID, opts.ActorID, events.EventPayload{"priority": string(u.Priority)}); err != nil {
			return domain.WalletRequest{}, false, err
		}
		req, err := s.Repo.GetRequestTx(ctx, tx, existing.ID)
		if err != nil {
			return domain.WalletRequest{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return domain.WalletRequest{}, false, err
		}
		return req, true, nil
	case !errors.Is(err, repo.ErrNotFound):
		return domain.WalletRequest{}, false, err
	}

	req := domain.WalletRequest{
		ID:             uuid.NewString(),
		CardID:         opts.CardID,
		CustomerID:     opts.CustomerID,
		CustomerCardID: customerCardID,
		Platform:       platform,
		Priority:       priority,
		Status:         domain.StatusPending,
		Metadata:       opts.Metadata,
		Source:         opts.Source,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Source == "" {
		req.Source = "app"
	}
	if err := s.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.WalletRequest{}, false, err
	}
	if err := s.Events.Append(ctx, tx, events.RequestEnqueued, req.ID, opts.ActorID, events.EventPayload{
		"platform": string(platform),
		"priority": string(priority),
		"card_id":  req.CardID,
	}); err != nil {
		return domain.WalletRequest{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, false, err
	}
	return req, false, nil
}

func (s Service) Get(ctx context.Context, id string) (domain.WalletRequest, error) {
	if err := wallet.ValidateID("id", id); err != nil {
		return domain.WalletRequest{}, err
	}
	return s.Repo.GetRequest(ctx, id)
}

func (s Service) List(ctx context.Context, f repo.RequestFilters) ([]domain.WalletRequest, error) {
	return s.Repo.ListRequests(ctx, f)
}

// Artifact returns the stored artifact of a completed request.
func (s Service) Artifact(ctx context.Context, id string) (domain.StoredArtifact, error) {
	if err := wallet.ValidateID("id", id); err != nil {
		return domain.StoredArtifact{}, err
	}
	return s.Repo.GetArtifact(ctx, id)
}

func (s Service) History(ctx context.Context, id string) ([]domain.Event, error) {
	return s.Repo.RequestEvents(ctx, id)
}

// Claim moves up to limit due pending requests to processing for workerID.
// Requests won by another worker, or whose tuple is already being built, are
// skipped.
func (s Service) Claim(ctx context.Context, workerID string, limit int) ([]domain.WalletRequest, error) {
	now := domain.FormatTime(s.now())
	candidates, err := s.Repo.ClaimCandidates(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list claim candidates: %w", err)
	}
	var claimed []domain.WalletRequest
	for _, c := range candidates {
		ok, err := s.claimOne(ctx, c.ID, workerID, now)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		c.Status = domain.StatusProcessing
		c.StartedAt = now
		c.UpdatedAt = now
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (s Service) claimOne(ctx context.Context, id, workerID, now string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	ok, err := s.Repo.ClaimRequest(ctx, tx, id, workerID, now)
	if err != nil || !ok {
		return false, err
	}
	if err := s.Events.Append(ctx, tx, events.RequestClaimed, id, workerID, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Complete stores the artifact and moves a processing request to completed.
func (s Service) Complete(ctx context.Context, id string, artifact domain.StoredArtifact) (domain.WalletRequest, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	defer tx.Rollback()
	req, err := s.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.WalletRequest{}, err
	}
	if req.Status != domain.StatusProcessing {
		return domain.WalletRequest{}, domain.TransitionError{From: req.Status, To: domain.StatusCompleted}
	}
	now := domain.FormatTime(s.now())
	u := updateFrom(req, domain.StatusCompleted, now)
	u.ErrorMessage = ""
	u.ProcessedAt = now
	if ok, err := s.Repo.UpdateRequest(ctx, tx, u); err != nil || !ok {
		return domain.WalletRequest{}, guardErr(err, req.Status, domain.StatusCompleted)
	}
	artifact.RequestID = id
	artifact.Platform = req.Platform
	if artifact.CreatedAt == "" {
		artifact.CreatedAt = now
	}
	if err := s.Repo.SaveArtifact(ctx, tx, artifact); err != nil {
		return domain.WalletRequest{}, fmt.Errorf("save artifact: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.RequestCompleted, id, "", events.EventPayload{"bytes": len(artifact.Body)}); err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	return s.Repo.GetRequest(ctx, id)
}

// Fail moves a processing request to failed with message.
func (s Service) Fail(ctx context.Context, id, message string) (domain.WalletRequest, error) {
	return s.toFailed(ctx, id, []domain.RequestStatus{domain.StatusProcessing}, message, events.RequestFailed, "")
}

func (s Service) toFailed(ctx context.Context, id string, from []domain.RequestStatus, message, evtType, actorID string) (domain.WalletRequest, error) {
	if message == "" {
		message = "generation failed"
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
	if !statusIn(req.Status, from) {
		return domain.WalletRequest{}, domain.TransitionError{From: req.Status, To: domain.StatusFailed}
	}
	now := domain.FormatTime(s.now())
	u := updateFrom(req, domain.StatusFailed, now)
	u.ErrorMessage = message
	u.ProcessedAt = now
	if ok, err := s.Repo.UpdateRequest(ctx, tx, u); err != nil || !ok {
		return domain.WalletRequest{}, guardErr(err, req.Status, domain.StatusFailed)
	}
	if err := s.Events.Append(ctx, tx, evtType, id, actorID, events.EventPayload{"error": message, "from": string(req.Status)}); err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	return s.Repo.GetRequest(ctx, id)
}

// Cancel withdraws a request that no worker has claimed yet.
func (s Service) Cancel(ctx context.Context, id, actorID string) (domain.WalletRequest, error) {
	if err := wallet.ValidateID("id", id); err != nil {
		return domain.WalletRequest{}, err
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
	if req.Status != domain.StatusPending {
		return domain.WalletRequest{}, domain.TransitionError{From: req.Status, To: domain.StatusCancelled}
	}
	now := domain.FormatTime(s.now())
	u := updateFrom(req, domain.StatusCancelled, now)
	u.ProcessedAt = now
	if ok, err := s.Repo.UpdateRequest(ctx, tx, u); err != nil || !ok {
		return domain.WalletRequest{}, guardErr(err, req.Status, domain.StatusCancelled)
	}
	if err := s.Events.Append(ctx, tx, events.RequestCancelled, id, actorID, nil); err != nil {
		return domain.WalletRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WalletRequest{}, err
	}
	return s.Repo.GetRequest(ctx, id)
}

// Wait polls a request until it reaches a terminal status. When timeout
// elapses first it returns the last observed request and ErrWaitTimeout;
// the request itself is left untouched.
func (s Service) Wait(ctx context.Context, id string, timeout, interval time.Duration) (domain.WalletRequest, error) {
	if timeout <= 0 {
		timeout = s.Config.WaitTimeout
	}
	if interval <= 0 {
		interval = s.Config.WaitInterval
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		req, err := s.Get(ctx, id)
		if err != nil {
			return req, err
		}
		if req.Status.Terminal() {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-deadline.C:
			return req, domain.ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// updateFrom returns an update that keeps every field of req and changes
// its status, guarded on the current status.
func updateFrom(req domain.WalletRequest, to domain.RequestStatus, now string) repo.RequestUpdate {
	return repo.RequestUpdate{
		ID:            req.ID,
		ExpectStatus:  req.Status,
		Status:        to,
		Priority:      req.Priority,
		RetryCount:    req.RetryCount,
		ErrorMessage:  req.ErrorMessage,
		ForceReason:   req.ForceReason,
		Metadata:      req.Metadata,
		NextAttemptAt: req.NextAttemptAt,
		StartedAt:     req.StartedAt,
		ProcessedAt:   req.ProcessedAt,
		UpdatedAt:     now,
	}
}

func guardErr(err error, from, to domain.RequestStatus) error {
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ValidationError{Field: "id", Reason: "another request for the same card and platform is already " + string(to)}
		}
		return err
	}
	return domain.TransitionError{From: from, To: to}
}

func statusIn(s domain.RequestStatus, set []domain.RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
