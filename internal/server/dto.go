package server

import (
	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
	"rewardjar/internal/queue"
	"rewardjar/internal/validate"
)

// Request payloads

type EnqueueRequest struct {
	CardID     string            `json:"card_id" doc:"Card template id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Platform   string            `json:"platform" example:"apple"`
	Priority   string            `json:"priority,omitempty" example:"normal"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ScanRequest struct {
	Count   int      `json:"count,omitempty" doc:"Stamps or sessions to add, default 1"`
	Refresh []string `json:"refresh,omitempty" doc:"Platforms whose wallet should be regenerated"`
}

type QueueActionRequest struct {
	Action   string   `json:"action" enum:"retry,force,fail,cancel,clear_completed,clear_failed,reap_stale"`
	IDs      []string `json:"ids,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// ValidateRequest selects what to validate: a stored artifact, a live render
// of a customer card on every configured platform, or raw content.
type ValidateRequest struct {
	RequestID      string `json:"request_id,omitempty"`
	CustomerCardID string `json:"customer_card_id,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Content        []byte `json:"content,omitempty" doc:"Base64 artifact body"`
}

type SimulatorRequest struct {
	Action         string   `json:"action" enum:"create_customer,create_card,generate_wallet,simulate_flow,cleanup"`
	BusinessName   string   `json:"business_name,omitempty"`
	CustomerName   string   `json:"customer_name,omitempty"`
	CustomerEmail  string   `json:"customer_email,omitempty"`
	CardType       string   `json:"card_type,omitempty"`
	CardName       string   `json:"card_name,omitempty"`
	TotalStamps    int      `json:"total_stamps,omitempty"`
	StampsUsed     int      `json:"stamps_used,omitempty"`
	MembershipType string   `json:"membership_type,omitempty"`
	TotalSessions  int      `json:"total_sessions,omitempty"`
	SessionsUsed   int      `json:"sessions_used,omitempty"`
	CostPerSession string   `json:"cost_per_session,omitempty"`
	DurationDays   int      `json:"duration_days,omitempty"`
	CustomerID     string   `json:"customer_id,omitempty"`
	CardID         string   `json:"card_id,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	Priority       string   `json:"priority,omitempty"`
}

// Responses

type EnqueueResponse struct {
	Request   domain.WalletRequest `json:"request"`
	Coalesced bool                 `json:"coalesced"`
}

type RequestStatusResponse struct {
	Request     domain.WalletRequest `json:"request"`
	TimedOut    bool                 `json:"timed_out"`
	ArtifactURL string               `json:"artifact_url,omitempty"`
}

type GoogleWalletResponse struct {
	SaveURL  string            `json:"saveUrl"`
	JWT      string            `json:"jwt"`
	ClassID  string            `json:"classId"`
	ObjectID string            `json:"objectId"`
	Progress progress.Progress `json:"progress"`
}

type QueueListResponse struct {
	Items []domain.WalletRequest `json:"items"`
	Stats queue.Stats            `json:"stats"`
}

type ValidateResponse struct {
	Valid        bool              `json:"valid"`
	Completion   int               `json:"completion"`
	Reports      []validate.Report `json:"reports"`
	RenderErrors map[string]string `json:"render_errors,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
}

func nonNilRequests(items []domain.WalletRequest) []domain.WalletRequest {
	if items == nil {
		return []domain.WalletRequest{}
	}
	return items
}
