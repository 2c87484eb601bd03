package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts relayed events to an HTTP endpoint. Use it as the Publisher
// of a Relay with an empty SubjectPrefix so the subject is the event type.
type Webhook struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

func (w Webhook) Publish(subject string, data []byte) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RewardJar-Event", subject)
	var msg struct {
		ID int64 `json:"id"`
	}
	if json.Unmarshal(data, &msg) == nil && msg.ID > 0 {
		req.Header.Set("X-RewardJar-Delivery", fmt.Sprintf("%d", msg.ID))
	}
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-RewardJar-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
