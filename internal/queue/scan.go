package queue

import (
	"context"

	"rewardjar/internal/domain"
	"rewardjar/internal/events"
	"rewardjar/internal/progress"
	"rewardjar/internal/wallet"
)

const maxScanCount = 50

// ScanResult is the card after a scan and the wallet refreshes it queued.
type ScanResult struct {
	Card      domain.CustomerCard    `json:"card"`
	Progress  progress.Progress      `json:"progress"`
	Refreshed []domain.WalletRequest `json:"refreshed,omitempty"`
}

// Scan adds count stamps or sessions to a customer card and queues a wallet
// refresh for each platform in refresh.
func (s Service) Scan(ctx context.Context, customerCardID string, count int, refresh []string, actorID string) (ScanResult, error) {
	if err := wallet.ValidateID("customerCardId", customerCardID); err != nil {
		return ScanResult{}, err
	}
	if count == 0 {
		count = 1
	}
	if count < 0 || count > maxScanCount {
		return ScanResult{}, domain.ValidationError{Field: "count", Reason: "must be between 1 and 50"}
	}
	for _, p := range refresh {
		if _, err := domain.ParsePlatform(p); err != nil {
			return ScanResult{}, err
		}
	}
	now := s.now()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ScanResult{}, err
	}
	defer tx.Rollback()
	card, err := s.Repo.AddProgress(ctx, tx, customerCardID, count, now)
	if err != nil {
		return ScanResult{}, err
	}
	p := progress.Calculate(card, now)
	if err := s.Events.Append(ctx, tx, events.CardProgressed, "", actorID, events.EventPayload{
		"customer_card_id": card.ID,
		"kind":             string(card.Kind),
		"added":            count,
		"used":             p.Used(),
		"completed":        p.IsCompleted,
	}); err != nil {
		return ScanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Card: card, Progress: p}
	for _, platform := range refresh {
		req, _, err := s.Enqueue(ctx, EnqueueOptions{
			CardID:     card.TemplateID,
			CustomerID: card.CustomerID,
			Platform:   platform,
			Metadata:   map[string]string{"trigger": "scan"},
			ActorID:    actorID,
		})
		if err != nil {
			return res, err
		}
		res.Refreshed = append(res.Refreshed, req)
	}
	return res, nil
}
