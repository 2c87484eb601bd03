package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
)

// Store is the read side of the repository used to assemble render inputs.
type Store interface {
	GetBusiness(ctx context.Context, id string) (domain.Business, error)
	GetTemplate(ctx context.Context, id string) (domain.CardTemplate, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	GetCustomerCard(ctx context.Context, id string) (domain.CustomerCard, error)
	FindCustomerCard(ctx context.Context, templateID, customerID string) (domain.CustomerCard, error)
}

type Loader struct {
	Store Store
	Now   func() time.Time
}

func (l Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// ValidateID rejects identifiers that are not UUIDs.
func ValidateID(field, id string) error {
	if id == "" {
		return domain.ValidationError{Field: field, Reason: "required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ValidationError{Field: field, Reason: "must be a UUID"}
	}
	return nil
}

// ForCustomerCard loads the input for an existing customer card.
func (l Loader) ForCustomerCard(ctx context.Context, customerCardID string) (Input, error) {
	if err := ValidateID("customerCardId", customerCardID); err != nil {
		return Input{}, err
	}
	card, err := l.Store.GetCustomerCard(ctx, customerCardID)
	if err != nil {
		return Input{}, err
	}
	return l.assemble(ctx, card)
}

// ForCard loads the input for a (card template, customer) pair. Without a
// customer the template is rendered as an empty preview card.
func (l Loader) ForCard(ctx context.Context, cardID, customerID string) (Input, error) {
	if err := ValidateID("cardId", cardID); err != nil {
		return Input{}, err
	}
	if customerID == "" {
		tpl, err := l.Store.GetTemplate(ctx, cardID)
		if err != nil {
			return Input{}, err
		}
		return l.withTemplate(ctx, tpl, PreviewCard(tpl), nil)
	}
	if err := ValidateID("customerId", customerID); err != nil {
		return Input{}, err
	}
	card, err := l.Store.FindCustomerCard(ctx, cardID, customerID)
	if err != nil {
		return Input{}, err
	}
	return l.assemble(ctx, card)
}

// ForRequest loads the input for a queued wallet request.
func (l Loader) ForRequest(ctx context.Context, req domain.WalletRequest) (Input, error) {
	if req.CustomerCardID != "" {
		return l.ForCustomerCard(ctx, req.CustomerCardID)
	}
	return l.ForCard(ctx, req.CardID, req.CustomerID)
}

func (l Loader) assemble(ctx context.Context, card domain.CustomerCard) (Input, error) {
	tpl, err := l.Store.GetTemplate(ctx, card.TemplateID)
	if err != nil {
		return Input{}, err
	}
	var customer *domain.Customer
	if card.CustomerID != "" {
		c, err := l.Store.GetCustomer(ctx, card.CustomerID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Input{}, err
		}
		if err == nil {
			customer = &c
		}
	}
	return l.withTemplate(ctx, tpl, card, customer)
}

func (l Loader) withTemplate(ctx context.Context, tpl domain.CardTemplate, card domain.CustomerCard, customer *domain.Customer) (Input, error) {
	biz, err := l.Store.GetBusiness(ctx, tpl.BusinessID)
	if err != nil {
		return Input{}, err
	}
	now := l.now()
	return Input{
		Business: biz,
		Template: tpl,
		Card:     card,
		Customer: customer,
		Progress: progress.Calculate(card, now),
		Now:      now,
	}, nil
}

// PreviewCard builds a zero-progress card for a template.
func PreviewCard(tpl domain.CardTemplate) domain.CustomerCard {
	card := domain.CustomerCard{TemplateID: tpl.ID, Kind: tpl.Kind}
	switch tpl.Kind {
	case domain.CardKindStamp:
		card.Stamp = &domain.StampFields{}
		if tpl.Stamp != nil {
			card.Stamp.StampsRequired = tpl.Stamp.TotalStamps
		}
	case domain.CardKindMembership:
		card.Membership = &domain.MembershipFields{}
		if tpl.Membership != nil {
			card.Membership.MembershipType = tpl.Membership.MembershipType
			card.Membership.SessionsTotal = tpl.Membership.TotalSessions
			card.Membership.CostPerSession = tpl.Membership.CostPerSession
		}
	}
	return card
}

// CheckKind returns a validation error when the stored card kind differs from want.
func CheckKind(card domain.CustomerCard, want string) error {
	if want == "" {
		return nil
	}
	kind, err := domain.ParseCardKind(want)
	if err != nil {
		return err
	}
	if kind != card.Kind {
		return domain.ValidationError{Field: "type", Reason: "card is a " + string(card.Kind) + " card, not " + string(kind)}
	}
	return nil
}
