// Package progress derives the display state of a customer card from its
// raw counters. Nothing here is cached: callers recompute on every render.
package progress

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"rewardjar/internal/domain"
)

const (
	DefaultStampsRequired = 10
	DefaultSessionsTotal  = 20
)

type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateExpired   State = "expired"
)

// Progress is a snapshot of a card at a given instant.
type Progress struct {
	Kind            domain.CardKind `json:"kind"`
	StampsUsed      int             `json:"stamps_used,omitempty"`
	StampsRequired  int             `json:"stamps_required,omitempty"`
	SessionsUsed    int             `json:"sessions_used,omitempty"`
	SessionsTotal   int             `json:"sessions_total,omitempty"`
	CostPerSession  decimal.Decimal `json:"cost_per_session"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	PercentComplete int             `json:"percent_complete"`
	Remaining       int             `json:"remaining"`
	IsExpired       bool            `json:"is_expired"`
	IsCompleted     bool            `json:"is_completed"`
}

// Calculate computes the progress of card at now. Non-positive totals fall
// back to the defaults and negative counters count as zero.
func Calculate(card domain.CustomerCard, now time.Time) Progress {
	p := Progress{Kind: card.Kind}
	switch card.Kind {
	case domain.CardKindStamp:
		var f domain.StampFields
		if card.Stamp != nil {
			f = *card.Stamp
		}
		p.StampsRequired = orDefault(f.StampsRequired, DefaultStampsRequired)
		p.StampsUsed = nonNegative(f.StampsUsed)
		p.PercentComplete = percent(p.StampsUsed, p.StampsRequired)
		p.Remaining = nonNegative(p.StampsRequired - p.StampsUsed)
		p.IsCompleted = p.StampsUsed >= p.StampsRequired
	case domain.CardKindMembership:
		var f domain.MembershipFields
		if card.Membership != nil {
			f = *card.Membership
		}
		p.SessionsTotal = orDefault(f.SessionsTotal, DefaultSessionsTotal)
		p.SessionsUsed = nonNegative(f.SessionsUsed)
		p.CostPerSession = f.CostPerSession
		p.ExpiryDate = f.ExpiryDate
		p.PercentComplete = percent(p.SessionsUsed, p.SessionsTotal)
		p.Remaining = nonNegative(p.SessionsTotal - p.SessionsUsed)
		p.IsCompleted = p.SessionsUsed >= p.SessionsTotal
		p.IsExpired = f.ExpiryDate != nil && now.After(*f.ExpiryDate)
	}
	return p
}

// State returns the display state; expiry wins over completion.
func (p Progress) State() State {
	switch {
	case p.IsExpired:
		return StateExpired
	case p.IsCompleted:
		return StateCompleted
	default:
		return StateActive
	}
}

// Used returns the stamps or sessions consumed, whichever applies to the card kind.
func (p Progress) Used() int {
	if p.Kind == domain.CardKindMembership {
		return p.SessionsUsed
	}
	return p.StampsUsed
}

// Total returns the stamps required or sessions available.
func (p Progress) Total() int {
	if p.Kind == domain.CardKindMembership {
		return p.SessionsTotal
	}
	return p.StampsRequired
}

// RemainingValue is the cost of the sessions still available on a membership.
func (p Progress) RemainingValue() decimal.Decimal {
	return p.CostPerSession.Mul(decimal.NewFromInt(int64(p.Remaining)))
}

func percent(used, total int) int {
	v := int(math.Round(float64(used) / float64(total) * 100))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
