package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rewardjar/internal/domain"
)

func (r Repo) InsertBusiness(ctx context.Context, tx *sql.Tx, b domain.Business) error {
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO businesses(id,name,logo_url,brand_color,source,created_at) VALUES (?,?,?,?,?,?)`),
		b.ID, b.Name, nullable(b.LogoURL), nullable(b.BrandColor), sourceOrDefault(b.Source), b.CreatedAt)
	return err
}

func (r Repo) GetBusiness(ctx context.Context, id string) (domain.Business, error) {
	var b domain.Business
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,COALESCE(logo_url,''),COALESCE(brand_color,''),source,created_at FROM businesses WHERE id=?`), id).
		Scan(&b.ID, &b.Name, &b.LogoURL, &b.BrandColor, &b.Source, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, notFound("business", id)
	}
	return b, err
}

func (r Repo) InsertCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO customers(id,name,email,source,created_at) VALUES (?,?,?,?,?)`),
		c.ID, c.Name, nullable(c.Email), sourceOrDefault(c.Source), c.CreatedAt)
	return err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,COALESCE(email,''),source,created_at FROM customers WHERE id=?`), id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Source, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, notFound("customer", id)
	}
	return c, err
}

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.CardTemplate) error {
	var (
		totalStamps, totalSessions, durationDays any
		membershipType, cost                     any
	)
	switch t.Kind {
	case domain.CardKindStamp:
		if t.Stamp == nil {
			return errors.New("stamp template settings required")
		}
		totalStamps = t.Stamp.TotalStamps
	case domain.CardKindMembership:
		if t.Membership == nil {
			return errors.New("membership template settings required")
		}
		membershipType = nullable(t.Membership.MembershipType)
		totalSessions = t.Membership.TotalSessions
		cost = t.Membership.CostPerSession.String()
		durationDays = nullableInt(t.Membership.DurationDays, t.Membership.DurationDays > 0)
	default:
		return fmt.Errorf("unknown card kind %q", t.Kind)
	}
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO card_templates(id,business_id,kind,name,reward_description,card_color,total_stamps,membership_type,total_sessions,cost_per_session,duration_days,source,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.BusinessID, string(t.Kind), t.Name, nullable(t.RewardDescription), nullable(t.CardColor),
		totalStamps, membershipType, totalSessions, cost, durationDays, sourceOrDefault(t.Source), t.CreatedAt)
	return err
}

const templateColumns = `id,business_id,kind,name,COALESCE(reward_description,''),COALESCE(card_color,''),total_stamps,COALESCE(membership_type,''),total_sessions,COALESCE(cost_per_session,''),duration_days,source,created_at`

func scanTemplate(row interface{ Scan(...any) error }) (domain.CardTemplate, error) {
	var (
		t                                       domain.CardTemplate
		kind, membershipType, cost              string
		totalStamps, totalSessions, durationDay sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.BusinessID, &kind, &t.Name, &t.RewardDescription, &t.CardColor,
		&totalStamps, &membershipType, &totalSessions, &cost, &durationDay, &t.Source, &t.CreatedAt); err != nil {
		return t, err
	}
	t.Kind = domain.CardKind(kind)
	switch t.Kind {
	case domain.CardKindStamp:
		t.Stamp = &domain.StampTemplate{TotalStamps: int(totalStamps.Int64)}
	case domain.CardKindMembership:
		price, err := parseDecimal(cost)
		if err != nil {
			return t, fmt.Errorf("template %s cost_per_session: %w", t.ID, err)
		}
		t.Membership = &domain.MembershipTemplate{
			MembershipType: membershipType,
			TotalSessions:  int(totalSessions.Int64),
			CostPerSession: price,
			DurationDays:   int(durationDay.Int64),
		}
	default:
		return t, fmt.Errorf("template %s has unknown kind %q", t.ID, kind)
	}
	return t, nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.CardTemplate, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, r.q(`SELECT `+templateColumns+` FROM card_templates WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return t, notFound("card template", id)
	}
	return t, err
}

func (r Repo) InsertCustomerCard(ctx context.Context, tx *sql.Tx, c domain.CustomerCard) error {
	var stampsUsed, sessionsUsed int
	var expiry any
	switch c.Kind {
	case domain.CardKindStamp:
		if c.Stamp != nil {
			stampsUsed = c.Stamp.StampsUsed
		}
	case domain.CardKindMembership:
		if c.Membership != nil {
			sessionsUsed = c.Membership.SessionsUsed
			if c.Membership.ExpiryDate != nil {
				expiry = domain.FormatTime(*c.Membership.ExpiryDate)
			}
		}
	default:
		return fmt.Errorf("unknown card kind %q", c.Kind)
	}
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO customer_cards(id,customer_id,template_id,kind,stamps_used,sessions_used,expiry_date,source,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.CustomerID, c.TemplateID, string(c.Kind), stampsUsed, sessionsUsed, expiry, sourceOrDefault(c.Source), c.CreatedAt, c.UpdatedAt)
	return err
}

const customerCardSelect = `SELECT cc.id,cc.customer_id,cc.template_id,cc.kind,cc.stamps_used,cc.sessions_used,COALESCE(cc.expiry_date,''),cc.source,cc.created_at,cc.updated_at,
t.kind,t.total_stamps,COALESCE(t.membership_type,''),t.total_sessions,COALESCE(t.cost_per_session,'')
FROM customer_cards cc JOIN card_templates t ON t.id=cc.template_id`

// scanCustomerCard builds the tagged card from a row of customerCardSelect.
// Template totals are copied onto the card so progress can be computed from
// the card alone.
func scanCustomerCard(row interface{ Scan(...any) error }) (domain.CustomerCard, error) {
	var (
		c                          domain.CustomerCard
		kind, templateKind, expiry string
		membershipType, cost       string
		stampsUsed, sessionsUsed   int
		totalStamps, totalSessions sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.TemplateID, &kind, &stampsUsed, &sessionsUsed, &expiry, &c.Source, &c.CreatedAt, &c.UpdatedAt,
		&templateKind, &totalStamps, &membershipType, &totalSessions, &cost); err != nil {
		return c, err
	}
	if kind != templateKind {
		return c, fmt.Errorf("customer card %s kind %q does not match template kind %q", c.ID, kind, templateKind)
	}
	c.Kind = domain.CardKind(kind)
	switch c.Kind {
	case domain.CardKindStamp:
		c.Stamp = &domain.StampFields{
			StampsRequired: int(totalStamps.Int64),
			StampsUsed:     stampsUsed,
		}
	case domain.CardKindMembership:
		price, err := parseDecimal(cost)
		if err != nil {
			return c, fmt.Errorf("customer card %s cost_per_session: %w", c.ID, err)
		}
		m := &domain.MembershipFields{
			MembershipType: membershipType,
			SessionsTotal:  int(totalSessions.Int64),
			SessionsUsed:   sessionsUsed,
			CostPerSession: price,
		}
		if expiry != "" {
			ts, err := domain.ParseTime(expiry)
			if err != nil {
				return c, fmt.Errorf("customer card %s expiry_date: %w", c.ID, err)
			}
			m.ExpiryDate = &ts
		}
		c.Membership = m
	default:
		return c, fmt.Errorf("customer card %s has unknown kind %q", c.ID, kind)
	}
	return c, nil
}

func (r Repo) GetCustomerCard(ctx context.Context, id string) (domain.CustomerCard, error) {
	return r.GetCustomerCardTx(ctx, nil, id)
}

func (r Repo) GetCustomerCardTx(ctx context.Context, tx *sql.Tx, id string) (domain.CustomerCard, error) {
	c, err := scanCustomerCard(r.conn(tx).QueryRowContext(ctx, r.q(customerCardSelect+` WHERE cc.id=?`), id))
	if err == sql.ErrNoRows {
		return c, notFound("customer card", id)
	}
	return c, err
}

// FindCustomerCard returns the card a customer holds for a template.
func (r Repo) FindCustomerCard(ctx context.Context, templateID, customerID string) (domain.CustomerCard, error) {
	c, err := scanCustomerCard(r.DB.QueryRowContext(ctx, r.q(customerCardSelect+` WHERE cc.template_id=? AND cc.customer_id=?`), templateID, customerID))
	if err == sql.ErrNoRows {
		return c, notFound("customer card", templateID+"/"+customerID)
	}
	return c, err
}

// AddProgress adds n stamps or sessions to a customer card, depending on its kind.
func (r Repo) AddProgress(ctx context.Context, tx *sql.Tx, id string, n int, now time.Time) (domain.CustomerCard, error) {
	card, err := r.GetCustomerCardTx(ctx, tx, id)
	if err != nil {
		return card, err
	}
	column := "stamps_used"
	if card.Kind == domain.CardKindMembership {
		column = "sessions_used"
	}
	res, err := r.conn(tx).ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE customer_cards SET %s=%s+?, updated_at=? WHERE id=?`, column, column)),
		n, domain.FormatTime(now), id)
	if err != nil {
		return card, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return card, notFound("customer card", id)
	}
	return r.GetCustomerCardTx(ctx, tx, id)
}

// DeleteBySource removes every business and customer created by source.
// Templates and customer cards go with them through cascading foreign keys.
func (r Repo) DeleteBySource(ctx context.Context, tx *sql.Tx, source string) (int64, error) {
	var total int64
	for _, table := range []string{"customer_cards", "card_templates", "customers", "businesses"} {
		res, err := r.conn(tx).ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE source=?`), source)
		if err != nil {
			return total, fmt.Errorf("delete %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func sourceOrDefault(s string) string {
	if s == "" {
		return "app"
	}
	return s
}
