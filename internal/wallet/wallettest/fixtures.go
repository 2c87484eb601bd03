// Package wallettest builds render inputs for renderer tests.
package wallettest

import (
	"time"

	"github.com/shopspring/decimal"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
	"rewardjar/internal/wallet"
)

var Now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	BusinessID   = "7b1c39a4-8f7e-4a53-9c55-0e4b6d1f2a10"
	TemplateID   = "2f0d5c1e-3b44-4c8a-a1f2-9d8e7c6b5a40"
	CustomerID   = "c4a1e2d3-5f60-4b7c-8d9e-0a1b2c3d4e50"
	CustomerCard = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c60"
)

func business() domain.Business {
	return domain.Business{ID: BusinessID, Name: "Bean There Cafe", BrandColor: "#1d4ed8"}
}

// Stamp returns an input for a stamp card.
func Stamp(used, required int) wallet.Input {
	tpl := domain.CardTemplate{
		ID:                TemplateID,
		BusinessID:        BusinessID,
		Kind:              domain.CardKindStamp,
		Name:              "Coffee Card",
		RewardDescription: "Free coffee",
		Stamp:             &domain.StampTemplate{TotalStamps: required},
	}
	card := domain.CustomerCard{
		ID:         CustomerCard,
		CustomerID: CustomerID,
		TemplateID: TemplateID,
		Kind:       domain.CardKindStamp,
		Stamp:      &domain.StampFields{StampsRequired: required, StampsUsed: used},
	}
	return build(tpl, card)
}

// Membership returns an input for a membership card; a nil expiry never expires.
func Membership(used, total int, expiry *time.Time) wallet.Input {
	cost := decimal.RequireFromString("15.00")
	tpl := domain.CardTemplate{
		ID:                TemplateID,
		BusinessID:        BusinessID,
		Kind:              domain.CardKindMembership,
		Name:              "Gym Pass",
		RewardDescription: "Unlimited classes",
		Membership:        &domain.MembershipTemplate{MembershipType: "gym", TotalSessions: total, CostPerSession: cost},
	}
	card := domain.CustomerCard{
		ID:         CustomerCard,
		CustomerID: CustomerID,
		TemplateID: TemplateID,
		Kind:       domain.CardKindMembership,
		Membership: &domain.MembershipFields{
			MembershipType: "gym",
			SessionsTotal:  total,
			SessionsUsed:   used,
			CostPerSession: cost,
			ExpiryDate:     expiry,
		},
	}
	return build(tpl, card)
}

func build(tpl domain.CardTemplate, card domain.CustomerCard) wallet.Input {
	return wallet.Input{
		Business: business(),
		Template: tpl,
		Card:     card,
		Customer: &domain.Customer{ID: CustomerID, Name: "Ada Lovelace"},
		Progress: progress.Calculate(card, Now),
		Now:      Now,
	}
}
