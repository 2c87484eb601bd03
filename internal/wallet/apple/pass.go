package apple

import (
	"fmt"
	"strings"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
	"rewardjar/internal/wallet"
)

// Pass is the pass.json descriptor.
type Pass struct {
	FormatVersion      int        `json:"formatVersion"`
	PassTypeIdentifier string     `json:"passTypeIdentifier"`
	SerialNumber       string     `json:"serialNumber"`
	TeamIdentifier     string     `json:"teamIdentifier"`
	OrganizationName   string     `json:"organizationName"`
	Description        string     `json:"description"`
	LogoText           string     `json:"logoText,omitempty"`
	BackgroundColor    string     `json:"backgroundColor"`
	ForegroundColor    string     `json:"foregroundColor"`
	LabelColor         string     `json:"labelColor"`
	Barcode            *Barcode   `json:"barcode,omitempty"`
	Barcodes           []Barcode  `json:"barcodes,omitempty"`
	StoreCard          *Structure `json:"storeCard,omitempty"`
	Generic            *Structure `json:"generic,omitempty"`
	ExpirationDate     string     `json:"expirationDate,omitempty"`
	Voided             bool       `json:"voided,omitempty"`
	WebServiceURL      string     `json:"webServiceURL,omitempty"`
	UserInfo           UserInfo   `json:"userInfo"`
}

type Barcode struct {
	Message         string `json:"message"`
	Format          string `json:"format"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

type Field struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	Value         any    `json:"value"`
	TextAlignment string `json:"textAlignment,omitempty"`
	ChangeMessage string `json:"changeMessage,omitempty"`
}

// Structure holds the field groups of a pass style.
type Structure struct {
	HeaderFields    []Field `json:"headerFields,omitempty"`
	PrimaryFields   []Field `json:"primaryFields,omitempty"`
	SecondaryFields []Field `json:"secondaryFields,omitempty"`
	AuxiliaryFields []Field `json:"auxiliaryFields,omitempty"`
	BackFields      []Field `json:"backFields,omitempty"`
}

type UserInfo struct {
	CardKind        domain.CardKind `json:"cardKind"`
	CustomerCardID  string          `json:"customerCardId,omitempty"`
	TemplateID      string          `json:"templateId"`
	BusinessID      string          `json:"businessId"`
	PercentComplete int             `json:"percentComplete"`
	State           string          `json:"state"`
}

// BuildPass lays out the store-card descriptor for in.
func BuildPass(cfg Config, in wallet.Input) (Pass, error) {
	theme := wallet.ThemeFor(in)
	org := cfg.OrganizationName
	if org == "" {
		org = in.Business.Name
	}
	barcode := Barcode{
		Message:         in.ScanMessage(),
		Format:          "PKBarcodeFormatQR",
		MessageEncoding: "iso-8859-1",
		AltText:         in.SerialNumber(),
	}
	p := Pass{
		FormatVersion:      1,
		PassTypeIdentifier: cfg.PassTypeIdentifier,
		SerialNumber:       in.SerialNumber(),
		TeamIdentifier:     cfg.TeamIdentifier,
		OrganizationName:   org,
		Description:        fmt.Sprintf("%s - %s", in.Business.Name, in.Title()),
		LogoText:           in.Business.Name,
		BackgroundColor:    theme.Background,
		ForegroundColor:    theme.Foreground,
		LabelColor:         theme.Label,
		Barcode:            &barcode,
		Barcodes:           []Barcode{barcode},
		WebServiceURL:      cfg.WebServiceURL,
		UserInfo: UserInfo{
			CardKind:        in.Card.Kind,
			CustomerCardID:  in.Card.ID,
			TemplateID:      in.Template.ID,
			BusinessID:      in.Business.ID,
			PercentComplete: in.Progress.PercentComplete,
			State:           theme.State,
		},
	}
	var s *Structure
	switch in.Card.Kind {
	case domain.CardKindStamp:
		s = stampFields(in)
	case domain.CardKindMembership:
		s = membershipFields(in)
		if in.Progress.ExpiryDate != nil {
			p.ExpirationDate = in.Progress.ExpiryDate.UTC().Format(time.RFC3339)
			p.Voided = in.Progress.IsExpired
		}
	default:
		return Pass{}, fmt.Errorf("unsupported card kind %q", in.Card.Kind)
	}
	p.StoreCard = s
	return p, nil
}

func stampFields(in wallet.Input) *Structure {
	pr := in.Progress
	reward := in.Template.RewardDescription
	if reward == "" {
		reward = "Reward"
	}
	return &Structure{
		HeaderFields: []Field{{Key: "stamps", Label: "STAMPS", Value: fmt.Sprintf("%d/%d", pr.StampsUsed, pr.StampsRequired),
			ChangeMessage: "You now have %@ stamps"}},
		PrimaryFields: []Field{{Key: "reward", Label: "REWARD", Value: reward}},
		SecondaryFields: []Field{
			{Key: "progress", Label: "PROGRESS", Value: fmt.Sprintf("%d%%", pr.PercentComplete)},
			{Key: "remaining", Label: "REMAINING", Value: plural(pr.Remaining, "stamp")},
		},
		AuxiliaryFields: []Field{
			{Key: "business", Label: "BUSINESS", Value: in.Business.Name},
			{Key: "status", Label: "STATUS", Value: statusText(pr)},
		},
		BackFields: backFields(in, "Show this pass at the counter to collect a stamp."),
	}
}

func membershipFields(in wallet.Input) *Structure {
	pr := in.Progress
	kind := "MEMBERSHIP"
	if in.Card.Membership != nil && in.Card.Membership.MembershipType != "" {
		kind = strings.ToUpper(in.Card.Membership.MembershipType)
	}
	expires := "No expiry"
	if pr.ExpiryDate != nil {
		expires = pr.ExpiryDate.UTC().Format("2006-01-02")
	}
	return &Structure{
		HeaderFields: []Field{{Key: "sessions", Label: "SESSIONS", Value: fmt.Sprintf("%d/%d", pr.SessionsUsed, pr.SessionsTotal),
			ChangeMessage: "Sessions used: %@"}},
		PrimaryFields: []Field{{Key: "membership", Label: kind, Value: in.Title()}},
		SecondaryFields: []Field{
			{Key: "remaining", Label: "REMAINING", Value: plural(pr.Remaining, "session")},
			{Key: "value", Label: "REMAINING VALUE", Value: pr.RemainingValue().StringFixed(2)},
		},
		AuxiliaryFields: []Field{
			{Key: "expires", Label: "EXPIRES", Value: expires},
			{Key: "status", Label: "STATUS", Value: statusText(pr)},
		},
		BackFields: backFields(in, "Show this pass at reception to check in."),
	}
}

func backFields(in wallet.Input, instructions string) []Field {
	fields := []Field{
		{Key: "instructions", Label: "How to use", Value: instructions},
		{Key: "card_id", Label: "Card", Value: in.SerialNumber()},
	}
	if in.Template.RewardDescription != "" {
		fields = append(fields, Field{Key: "reward_details", Label: "Reward", Value: in.Template.RewardDescription})
	}
	if in.Customer != nil && in.Customer.Name != "" {
		fields = append(fields, Field{Key: "member", Label: "Member", Value: in.Customer.Name})
	}
	return fields
}

func statusText(p progress.Progress) string {
	switch p.State() {
	case progress.StateExpired:
		return "Expired"
	case progress.StateCompleted:
		return "Completed"
	}
	return "Active"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
