package rewardjarsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal RewardJar wallet API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. The HTTP timeout leaves room for
// long-polling waits.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     90 * time.Second,
	}
}

// Request represents the API wallet request model.
type Request struct {
	ID             string            `json:"id"`
	CardID         string            `json:"card_id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	CustomerCardID string            `json:"customer_card_id,omitempty"`
	Platform       string            `json:"platform"`
	Priority       string            `json:"priority"`
	Status         string            `json:"status"`
	RetryCount     int               `json:"retry_count"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ForceReason    string            `json:"force_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	NextAttemptAt  string            `json:"next_attempt_at,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	ProcessedAt    string            `json:"processed_at,omitempty"`
}

// Terminal reports whether the request will not change without operator action.
func (r Request) Terminal() bool {
	switch r.Status {
	case "completed", "failed", "cancelled", "dead_letter":
		return true
	}
	return false
}

type EnqueueInput struct {
	CardID     string            `json:"card_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Platform   string            `json:"platform"`
	Priority   string            `json:"priority,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type EnqueueResult struct {
	Request   Request `json:"request"`
	Coalesced bool    `json:"coalesced"`
}

// Status is the answer of a status read; TimedOut is set when a wait ran out.
type Status struct {
	Request     Request `json:"request"`
	TimedOut    bool    `json:"timed_out"`
	ArtifactURL string  `json:"artifact_url,omitempty"`
}

// Event represents a request history entry.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// Artifact is a downloaded wallet artifact.
type Artifact struct {
	ContentType string
	Filename    string
	Body        []byte
}

// BulkResult reports an admin queue action.
type BulkResult struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Results []struct {
		ID     string `json:"id"`
		OK     bool   `json:"ok"`
		Status string `json:"status,omitempty"`
		Error  string `json:"error,omitempty"`
	} `json:"results"`
	Purged int64 `json:"purged,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Enqueue queues a wallet generation request.
func (c *Client) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error) {
	var resp EnqueueResult
	err := c.do(ctx, http.MethodPost, "wallet/requests", in, &resp)
	return resp, err
}

// Get reads the current status of a request.
func (c *Client) Get(ctx context.Context, id string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "wallet/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Wait long-polls until the request is terminal or ctx is done. Each poll
// asks the server to hold the call for up to perPoll.
func (c *Client) Wait(ctx context.Context, id string, perPoll time.Duration) (Request, error) {
	secs := int(perPoll / time.Second)
	if secs <= 0 {
		secs = 30
	}
	for {
		var resp Status
		endpoint := fmt.Sprintf("wallet/requests/%s?wait=%d", url.PathEscape(id), secs)
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return Request{}, err
		}
		if !resp.TimedOut && resp.Request.Terminal() {
			return resp.Request, nil
		}
		if err := ctx.Err(); err != nil {
			return resp.Request, err
		}
	}
}

// Artifact downloads the rendered artifact of a completed request.
func (c *Client) Artifact(ctx context.Context, id string) (Artifact, error) {
	res, err := c.send(ctx, http.MethodGet, "wallet/requests/"+url.PathEscape(id)+"/artifact", nil)
	if err != nil {
		return Artifact{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{ContentType: res.Header.Get("Content-Type"), Body: body}
	if _, after, ok := strings.Cut(res.Header.Get("Content-Disposition"), "filename="); ok {
		art.Filename = strings.Trim(after, `"`)
	}
	return art, nil
}

// Cancel cancels a pending request.
func (c *Client) Cancel(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodDelete, "wallet/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns the history of a request.
func (c *Client) Events(ctx context.Context, id string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, "wallet/requests/"+url.PathEscape(id)+"/events", nil, &resp)
	return resp, err
}

// QueueAction runs an admin bulk action (retry, force, fail, cancel,
// clear_completed, clear_failed, reap_stale).
func (c *Client) QueueAction(ctx context.Context, action string, ids []string, reason string) (BulkResult, error) {
	body := map[string]any{"action": action, "ids": ids}
	if reason != "" {
		body["reason"] = reason
	}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, "admin/wallet-chain/queue", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	res, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		apiErr := &APIError{StatusCode: res.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return nil, apiErr
	}
	return res, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
