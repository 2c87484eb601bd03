package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"rewardjar/internal/domain"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayBatch    = 100
)

// Source reads the persisted event log.
type Source interface {
	EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Publisher delivers one encoded event to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Relay forwards events from the log to a Publisher, one subject per event type.
// Delivery is at-least-once: the cursor advances only after a successful publish.
type Relay struct {
	Source        Source
	Publisher     Publisher
	SubjectPrefix string
	Types         []string
	Interval      time.Duration
	Logger        *zap.Logger
	// FromStart replays the whole log instead of starting at the latest event.
	FromStart bool

	cursor  int64
	started bool
}

// Message is the JSON body published for each event.
type Message struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (r *Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger().Warn("event relay flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes every pending event and returns how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if !r.started {
		if !r.FromStart {
			cur, err := r.Source.LatestEventID(ctx)
			if err != nil {
				return 0, err
			}
			r.cursor = cur
		}
		r.started = true
	}
	filter := newEventFilter(r.Types)
	sent := 0
	for {
		evts, err := r.Source.EventsAfter(ctx, r.cursor, defaultRelayBatch)
		if err != nil {
			return sent, err
		}
		if len(evts) == 0 {
			return sent, nil
		}
		for _, evt := range evts {
			if filter.match(evt.Type) {
				if err := r.publish(evt); err != nil {
					return sent, err
				}
				sent++
			}
			r.cursor = evt.ID
		}
	}
}

// Cursor returns the id of the last event handled.
func (r *Relay) Cursor() int64 {
	return r.cursor
}

func (r *Relay) publish(evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(Message{
		ID:         evt.ID,
		Type:       evt.Type,
		RequestID:  evt.RequestID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	return r.Publisher.Publish(Subject(r.SubjectPrefix, evt.Type), data)
}

// Subject joins the prefix and the event type into a NATS subject.
func Subject(prefix, evtType string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return evtType
	}
	return prefix + "." + evtType
}

func (r *Relay) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
