// Package simulator creates synthetic businesses, customers and cards and
// drives them through the wallet queue so operators can test the pipeline
// end to end. Every record it writes is tagged with Source so cleanup can
// remove it again.
package simulator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rewardjar/internal/domain"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
	"rewardjar/internal/wallet"
)

const Source = "simulator"

const (
	ActionCreateCustomer = "create_customer"
	ActionCreateCard     = "create_card"
	ActionGenerateWallet = "generate_wallet"
	ActionSimulateFlow   = "simulate_flow"
	ActionCleanup        = "cleanup"
)

type Simulator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Queue  queue.Service
	Now    func() time.Time
	Logger *zap.Logger
}

// Request carries the parameters of every action; each action reads the
// fields it needs and defaults the rest.
type Request struct {
	Action         string
	ActorID        string
	BusinessName   string
	CustomerName   string
	CustomerEmail  string
	CardType       string
	CardName       string
	TotalStamps    int
	StampsUsed     int
	MembershipType string
	TotalSessions  int
	SessionsUsed   int
	CostPerSession string
	DurationDays   int
	CustomerID     string
	CardID         string
	Platforms      []string
	Priority       string
}

type Result struct {
	Action   string                 `json:"action"`
	Message  string                 `json:"message"`
	Business *domain.Business       `json:"business,omitempty"`
	Customer *domain.Customer       `json:"customer,omitempty"`
	Template *domain.CardTemplate   `json:"template,omitempty"`
	Card     *domain.CustomerCard   `json:"card,omitempty"`
	Requests []domain.WalletRequest `json:"requests,omitempty"`
	Deleted  map[string]int64       `json:"deleted,omitempty"`
}

func (s Simulator) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Simulator) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s Simulator) Run(ctx context.Context, req Request) (Result, error) {
	var (
		res Result
		err error
	)
	switch req.Action {
	case ActionCreateCustomer:
		res, err = s.CreateCustomer(ctx, req)
	case ActionCreateCard:
		res, err = s.CreateCard(ctx, req)
	case ActionGenerateWallet:
		res, err = s.GenerateWallet(ctx, req)
	case ActionSimulateFlow:
		res, err = s.SimulateFlow(ctx, req)
	case ActionCleanup:
		res, err = s.Cleanup(ctx, req.ActorID)
	default:
		return Result{}, domain.ValidationError{Field: "action", Reason: "must be one of create_customer, create_card, generate_wallet, simulate_flow, cleanup"}
	}
	if err != nil {
		return Result{}, err
	}
	res.Action = req.Action
	s.logger().Info("simulator action", zap.String("action", req.Action), zap.String("message", res.Message))
	return res, nil
}

func (s Simulator) CreateCustomer(ctx context.Context, req Request) (Result, error) {
	c := domain.Customer{
		ID:        uuid.NewString(),
		Name:      orDefault(req.CustomerName, "Test Customer"),
		Email:     req.CustomerEmail,
		Source:    Source,
		CreatedAt: domain.FormatTime(s.now()),
	}
	if c.Email == "" {
		c.Email = "test+" + c.ID[:8] + "@rewardjar.test"
	}
	if err := s.Repo.InsertCustomer(ctx, nil, c); err != nil {
		return Result{}, fmt.Errorf("create customer: %w", err)
	}
	return Result{Message: "created customer " + c.ID, Customer: &c}, nil
}

// CreateCard creates a business and card template. When CustomerID is set
// the customer also gets a card on it.
func (s Simulator) CreateCard(ctx context.Context, req Request) (Result, error) {
	kind, err := domain.ParseCardKind(orDefault(req.CardType, string(domain.CardKindStamp)))
	if err != nil {
		return Result{}, err
	}
	if req.CustomerID != "" {
		if err := wallet.ValidateID("customerId", req.CustomerID); err != nil {
			return Result{}, err
		}
		if _, err := s.Repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return Result{}, err
		}
	}
	tpl, err := buildTemplate(req, kind)
	if err != nil {
		return Result{}, err
	}
	now := domain.FormatTime(s.now())
	biz := domain.Business{
		ID:         uuid.NewString(),
		Name:       orDefault(req.BusinessName, "Test Business"),
		BrandColor: "#7c3aed",
		Source:     Source,
		CreatedAt:  now,
	}
	tpl.ID = uuid.NewString()
	tpl.BusinessID = biz.ID
	tpl.Source = Source
	tpl.CreatedAt = now

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertBusiness(ctx, tx, biz); err != nil {
		return Result{}, fmt.Errorf("create business: %w", err)
	}
	if err := s.Repo.InsertTemplate(ctx, tx, tpl); err != nil {
		return Result{}, fmt.Errorf("create template: %w", err)
	}
	res := Result{Business: &biz, Template: &tpl, Message: fmt.Sprintf("created %s card %s", kind, tpl.ID)}
	if req.CustomerID != "" {
		card := customerCard(req, tpl, req.CustomerID, s.now())
		if err := s.Repo.InsertCustomerCard(ctx, tx, card); err != nil {
			return Result{}, fmt.Errorf("create customer card: %w", err)
		}
		res.Message += " for customer " + req.CustomerID
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	if req.CustomerID != "" {
		card, err := s.Repo.FindCustomerCard(ctx, tpl.ID, req.CustomerID)
		if err != nil {
			return Result{}, err
		}
		res.Card = &card
	}
	return res, nil
}

// GenerateWallet enqueues one request per platform for CardID and CustomerID.
func (s Simulator) GenerateWallet(ctx context.Context, req Request) (Result, error) {
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = []string{string(domain.PlatformApple), string(domain.PlatformGoogle), string(domain.PlatformPWA)}
	}
	res := Result{}
	for _, p := range platforms {
		wr, _, err := s.Queue.Enqueue(ctx, queue.EnqueueOptions{
			CardID:     req.CardID,
			CustomerID: req.CustomerID,
			Platform:   p,
			Priority:   req.Priority,
			Metadata:   map[string]string{"simulation": "true"},
			Source:     Source,
			ActorID:    req.ActorID,
		})
		if err != nil {
			return Result{}, err
		}
		res.Requests = append(res.Requests, wr)
	}
	res.Message = fmt.Sprintf("queued %d wallet requests", len(res.Requests))
	return res, nil
}

// SimulateFlow runs create_customer, create_card and generate_wallet in turn.
func (s Simulator) SimulateFlow(ctx context.Context, req Request) (Result, error) {
	cust, err := s.CreateCustomer(ctx, req)
	if err != nil {
		return Result{}, err
	}
	req.CustomerID = cust.Customer.ID
	card, err := s.CreateCard(ctx, req)
	if err != nil {
		return Result{}, err
	}
	req.CardID = card.Template.ID
	gen, err := s.GenerateWallet(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message:  fmt.Sprintf("simulated %s card for %s with %d wallet requests", card.Template.Kind, cust.Customer.Name, len(gen.Requests)),
		Business: card.Business,
		Customer: cust.Customer,
		Template: card.Template,
		Card:     card.Card,
		Requests: gen.Requests,
	}, nil
}

// Cleanup removes every record created by the simulator.
func (s Simulator) Cleanup(ctx context.Context, actorID string) (Result, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	requests, err := s.Repo.DeleteRequestsBySource(ctx, tx, Source)
	if err != nil {
		return Result{}, fmt.Errorf("delete simulated requests: %w", err)
	}
	records, err := s.Repo.DeleteBySource(ctx, tx, Source)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{
		Message: fmt.Sprintf("removed %d requests and %d records", requests, records),
		Deleted: map[string]int64{"requests": requests, "records": records},
	}, nil
}

func buildTemplate(req Request, kind domain.CardKind) (domain.CardTemplate, error) {
	tpl := domain.CardTemplate{Kind: kind}
	switch kind {
	case domain.CardKindStamp:
		total := req.TotalStamps
		if total == 0 {
			total = 10
		}
		if total < 0 || req.StampsUsed < 0 {
			return tpl, domain.ValidationError{Field: "stamps", Reason: "must not be negative"}
		}
		tpl.Name = orDefault(req.CardName, "Test Stamp Card")
		tpl.RewardDescription = fmt.Sprintf("Free item after %d stamps", total)
		tpl.Stamp = &domain.StampTemplate{TotalStamps: total}
	case domain.CardKindMembership:
		total := req.TotalSessions
		if total == 0 {
			total = 20
		}
		if total < 0 || req.SessionsUsed < 0 {
			return tpl, domain.ValidationError{Field: "sessions", Reason: "must not be negative"}
		}
		cost := decimal.NewFromInt(15)
		if strings.TrimSpace(req.CostPerSession) != "" {
			d, err := decimal.NewFromString(req.CostPerSession)
			if err != nil || d.IsNegative() {
				return tpl, domain.ValidationError{Field: "costPerSession", Reason: "must be a non-negative decimal"}
			}
			cost = d
		}
		tpl.Name = orDefault(req.CardName, "Test Membership")
		tpl.RewardDescription = fmt.Sprintf("%d sessions", total)
		tpl.Membership = &domain.MembershipTemplate{
			MembershipType: orDefault(req.MembershipType, "gym"),
			TotalSessions:  total,
			CostPerSession: cost,
			DurationDays:   req.DurationDays,
		}
	}
	return tpl, nil
}

func customerCard(req Request, tpl domain.CardTemplate, customerID string, now time.Time) domain.CustomerCard {
	ts := domain.FormatTime(now)
	card := domain.CustomerCard{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		TemplateID: tpl.ID,
		Kind:       tpl.Kind,
		Source:     Source,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	switch tpl.Kind {
	case domain.CardKindStamp:
		card.Stamp = &domain.StampFields{StampsRequired: tpl.Stamp.TotalStamps, StampsUsed: req.StampsUsed}
	case domain.CardKindMembership:
		m := &domain.MembershipFields{
			MembershipType: tpl.Membership.MembershipType,
			SessionsTotal:  tpl.Membership.TotalSessions,
			SessionsUsed:   req.SessionsUsed,
			CostPerSession: tpl.Membership.CostPerSession,
		}
		if tpl.Membership.DurationDays > 0 {
			exp := now.AddDate(0, 0, tpl.Membership.DurationDays)
			m.ExpiryDate = &exp
		}
		card.Membership = m
	}
	return card
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
