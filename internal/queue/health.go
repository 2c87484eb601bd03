package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"rewardjar/internal/domain"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"

	pendingAgeWarning = 5 * time.Minute
	minSuccessSample  = 5
)

// Health is an advisory snapshot for operators. Nothing here acts on the queue.
type Health struct {
	Status                  string   `json:"status" enum:"healthy,degraded,unhealthy"`
	QueueLength             int      `json:"queue_length"`
	Processing              int      `json:"processing"`
	Failed                  int      `json:"failed"`
	DeadLetter              int      `json:"dead_letter"`
	OldestPendingAgeSeconds int64    `json:"oldest_pending_age_seconds"`
	SuccessRate             float64  `json:"success_rate"`
	SampleSize              int      `json:"sample_size"`
	AvgProcessingMillis     int64    `json:"avg_processing_ms"`
	StaleProcessing         int      `json:"stale_processing"`
	Window                  string   `json:"window"`
	Recommendations         []string `json:"recommendations"`
}

func (s Service) Health(ctx context.Context) (Health, error) {
	now := s.now()
	window := s.Config.HealthWindow
	if window <= 0 {
		window = time.Hour
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return Health{}, err
	}
	h := Health{
		Status:          HealthHealthy,
		QueueLength:     st.Pending,
		Processing:      st.Processing,
		Failed:          st.Failed,
		DeadLetter:      st.DeadLetter,
		SuccessRate:     100,
		Window:          window.String(),
		Recommendations: []string{},
	}

	oldest, err := s.Repo.OldestPendingCreatedAt(ctx)
	if err != nil {
		return Health{}, err
	}
	if oldest != "" {
		if ts, err := domain.ParseTime(oldest); err == nil && now.After(ts) {
			h.OldestPendingAgeSeconds = int64(now.Sub(ts) / time.Second)
		}
	}

	finished, err := s.Repo.FinishedSince(ctx, domain.FormatTime(now.Add(-window)), 0)
	if err != nil {
		return Health{}, err
	}
	var ok int
	var total time.Duration
	var timed int
	for _, req := range finished {
		if req.Status == domain.StatusCompleted {
			ok++
		}
		if req.StartedAt == "" || req.ProcessedAt == "" {
			continue
		}
		started, err1 := domain.ParseTime(req.StartedAt)
		done, err2 := domain.ParseTime(req.ProcessedAt)
		if err1 != nil || err2 != nil || done.Before(started) {
			continue
		}
		total += done.Sub(started)
		timed++
	}
	h.SampleSize = len(finished)
	if h.SampleSize > 0 {
		h.SuccessRate = math.Round(float64(ok)/float64(h.SampleSize)*1000) / 10
	}
	if timed > 0 {
		h.AvgProcessingMillis = (total / time.Duration(timed)).Milliseconds()
	}

	if s.Config.StaleAfter > 0 {
		stale, err := s.Repo.ProcessingStartedBefore(ctx, domain.FormatTime(now.Add(-s.Config.StaleAfter)))
		if err != nil {
			return Health{}, err
		}
		h.StaleProcessing = len(stale)
	}

	if h.StaleProcessing > 0 {
		h.Recommendations = append(h.Recommendations, fmt.Sprintf("retry stale items: %d requests have been processing for more than %s", h.StaleProcessing, s.Config.StaleAfter))
	}
	if h.OldestPendingAgeSeconds > int64(pendingAgeWarning/time.Second) {
		h.Recommendations = append(h.Recommendations, "pending requests are waiting; check that a worker is running")
	}
	if h.Failed > 0 {
		h.Recommendations = append(h.Recommendations, fmt.Sprintf("review and retry %d failed requests", h.Failed))
	}
	if h.DeadLetter > 0 {
		h.Recommendations = append(h.Recommendations, fmt.Sprintf("inspect %d dead-lettered requests; they will not be retried", h.DeadLetter))
	}
	if h.SampleSize >= minSuccessSample && h.SuccessRate < 80 {
		h.Recommendations = append(h.Recommendations, "success rate below 80%: check platform configuration")
	}
	switch {
	case h.SampleSize >= minSuccessSample && h.SuccessRate < 50:
		h.Status = HealthUnhealthy
	case len(h.Recommendations) > 0:
		h.Status = HealthDegraded
	}
	return h, nil
}
