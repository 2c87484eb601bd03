package events

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rewardjar/internal/domain"
)

func TestWebhookDeliversRelayedEvents(t *testing.T) {
	var got []*http.Request
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, r)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memSource{}
	r := &Relay{
		Source:    src,
		Publisher: Webhook{URL: srv.URL, Secret: "s3cret"},
		Types:     []string{RequestDeadLetter},
		FromStart: true,
	}
	src.events = []domain.Event{
		{ID: 1, Type: RequestEnqueued, RequestID: "req-1", ActorID: "api"},
		{ID: 2, Type: RequestDeadLetter, RequestID: "req-1", ActorID: "worker", Payload: `{"retry_count":3}`},
	}
	n, err := r.Flush(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one delivery, got %d err=%v", n, err)
	}
	if got[0].Header.Get("X-RewardJar-Event") != RequestDeadLetter {
		t.Fatalf("event header = %q", got[0].Header.Get("X-RewardJar-Event"))
	}
	if got[0].Header.Get("X-RewardJar-Delivery") != "2" || got[0].Header.Get("X-RewardJar-Secret") != "s3cret" {
		t.Fatalf("unexpected headers %v", got[0].Header)
	}
	if !strings.Contains(bodies[0], `"retry_count":3`) {
		t.Fatalf("unexpected body %s", bodies[0])
	}
	if r.Cursor() != 2 {
		t.Fatalf("cursor = %d", r.Cursor())
	}
}

func TestWebhookFailureHoldsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := &memSource{events: []domain.Event{{ID: 7, Type: RequestFailed, ActorID: "worker"}}}
	r := &Relay{Source: src, Publisher: Webhook{URL: srv.URL}, FromStart: true}
	if _, err := r.Flush(context.Background()); err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if r.Cursor() != 0 {
		t.Fatalf("cursor advanced to %d after a failed delivery", r.Cursor())
	}
}
