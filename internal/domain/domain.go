package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp.
// Fixed width keeps lexical order equal to temporal order in TEXT columns.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime, falling back to RFC3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
	PlatformPWA    Platform = "pwa"
)

// Platforms lists every supported wallet platform.
var Platforms = []Platform{PlatformApple, PlatformGoogle, PlatformPWA}

func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformApple, PlatformGoogle, PlatformPWA:
		return Platform(s), nil
	}
	return "", ValidationError{Field: "platform", Reason: "must be one of apple, google, pwa"}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh:
		return Priority(s), nil
	}
	return "", ValidationError{Field: "priority", Reason: "must be one of low, normal, high"}
}

// Rank orders priorities for claiming; lower ranks are claimed first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

type CardKind string

const (
	CardKindStamp      CardKind = "stamp"
	CardKindMembership CardKind = "membership"
)

func ParseCardKind(s string) (CardKind, error) {
	switch CardKind(s) {
	case CardKindStamp, CardKindMembership:
		return CardKind(s), nil
	}
	return "", ValidationError{Field: "type", Reason: "must be stamp or membership"}
}

type Business struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LogoURL    string `json:"logo_url,omitempty"`
	BrandColor string `json:"brand_color,omitempty"`
	Source     string `json:"source,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StampTemplate holds the settings of a stamp card template.
type StampTemplate struct {
	TotalStamps int `json:"total_stamps"`
}

// MembershipTemplate holds the settings of a membership card template.
type MembershipTemplate struct {
	MembershipType string          `json:"membership_type"`
	TotalSessions  int             `json:"total_sessions"`
	CostPerSession decimal.Decimal `json:"cost_per_session"`
	DurationDays   int             `json:"duration_days,omitempty"`
}

// CardTemplate is a business-owned card design. Exactly one of Stamp and
// Membership is set, matching Kind.
type CardTemplate struct {
	ID                string              `json:"id"`
	BusinessID        string              `json:"business_id"`
	Kind              CardKind            `json:"kind" enum:"stamp,membership"`
	Name              string              `json:"name"`
	RewardDescription string              `json:"reward_description,omitempty"`
	CardColor         string              `json:"card_color,omitempty"`
	Stamp             *StampTemplate      `json:"stamp,omitempty"`
	Membership        *MembershipTemplate `json:"membership,omitempty"`
	Source            string              `json:"source,omitempty"`
	CreatedAt         string              `json:"created_at" format:"date-time"`
}

type StampFields struct {
	StampsRequired int `json:"stamps_required"`
	StampsUsed     int `json:"stamps_used"`
}

type MembershipFields struct {
	MembershipType string          `json:"membership_type"`
	SessionsTotal  int             `json:"sessions_total"`
	SessionsUsed   int             `json:"sessions_used"`
	CostPerSession decimal.Decimal `json:"cost_per_session"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
}

// CustomerCard is a customer's instance of a card template. Kind selects
// which of Stamp and Membership carries the progress counters.
type CustomerCard struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	TemplateID string            `json:"template_id"`
	Kind       CardKind          `json:"kind" enum:"stamp,membership"`
	Stamp      *StampFields      `json:"stamp,omitempty"`
	Membership *MembershipFields `json:"membership,omitempty"`
	Source     string            `json:"source,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

// Preview reports whether the card is a template-only placeholder with no
// customer behind it.
func (c CustomerCard) Preview() bool {
	return c.CustomerID == ""
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusDeadLetter RequestStatus = "dead_letter"
)

// Terminal reports whether a request in this status will not be touched by a worker again.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	}
	return false
}

// WalletRequest is a unit of wallet generation work.
type WalletRequest struct {
	ID             string            `json:"id"`
	CardID         string            `json:"card_id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	CustomerCardID string            `json:"customer_card_id,omitempty"`
	Platform       Platform          `json:"platform" enum:"apple,google,pwa"`
	Priority       Priority          `json:"priority" enum:"low,normal,high"`
	Status         RequestStatus     `json:"status" enum:"pending,processing,completed,failed,cancelled,dead_letter"`
	RetryCount     int               `json:"retry_count"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ForceReason    string            `json:"force_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Source         string            `json:"source,omitempty"`
	NextAttemptAt  string            `json:"next_attempt_at,omitempty" format:"date-time"`
	StartedAt      string            `json:"started_at,omitempty" format:"date-time"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
	ProcessedAt    string            `json:"processed_at,omitempty" format:"date-time"`
}

// DedupeKey identifies the (card, customer, platform) tuple of a request.
func DedupeKey(cardID, customerID string, platform Platform) string {
	return cardID + "|" + customerID + "|" + string(platform)
}

// StoredArtifact is a rendered wallet artifact persisted for a completed request.
type StoredArtifact struct {
	RequestID      string   `json:"request_id"`
	Platform       Platform `json:"platform"`
	ContentType    string   `json:"content_type"`
	Filename       string   `json:"filename"`
	Body           []byte   `json:"body"`
	SaveURL        string   `json:"save_url,omitempty"`
	ValidationJSON string   `json:"validation_json,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
