package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rewardjar/internal/artifactcache"
	"rewardjar/internal/domain"
	"rewardjar/internal/validate"
	"rewardjar/internal/wallet"
)

// Worker claims pending requests and renders them. Several workers may run
// against the same database; the claim keeps one build per tuple.
type Worker struct {
	ID        string
	Service   Service
	Loader    wallet.Loader
	Renderers wallet.Registry
	Cache     *artifactcache.Cache
	Logger    *zap.Logger
	// Wake triggers an immediate poll, e.g. from a NATS subscription.
	Wake <-chan struct{}
}

func (w Worker) logger() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return zap.NewNop()
}

// RunForever polls until ctx is cancelled.
func (w Worker) RunForever(ctx context.Context) error {
	interval := w.Service.Config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := w.logger().With(zap.String("worker_id", w.ID))
	log.Info("wallet worker started", zap.Duration("poll_interval", interval))
	for {
		if n, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("wallet worker poll failed", zap.Error(err))
		} else if n > 0 {
			log.Debug("wallet worker batch done", zap.Int("processed", n))
		}
		select {
		case <-ctx.Done():
			log.Info("wallet worker stopped")
			return nil
		case <-ticker.C:
		case <-w.Wake:
		}
	}
}

// RunOnce reaps stale work, claims one batch and processes it with bounded
// concurrency. It returns the number of requests processed.
func (w Worker) RunOnce(ctx context.Context) (int, error) {
	log := w.logger()
	reaped, err := w.Service.ReapStale(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range reaped {
		log.Warn("reaped stale wallet request", zap.String("request_id", r.ID), zap.Bool("ok", r.OK), zap.String("error", r.Error))
	}
	batch := w.Service.Config.ClaimBatch
	if batch <= 0 {
		batch = 10
	}
	claimed, err := w.Service.Claim(ctx, w.ID, batch)
	if err != nil {
		return 0, err
	}
	limit := w.Service.Config.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, req := range claimed {
		req := req
		g.Go(func() error {
			if err := w.Process(ctx, req); err != nil {
				log.Error("wallet request bookkeeping failed", zap.String("request_id", req.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// Process renders one claimed request and records the outcome. Render
// failures put the request in failed; the returned error only reports
// problems recording that outcome.
func (w Worker) Process(ctx context.Context, req domain.WalletRequest) error {
	log := w.logger().With(zap.String("request_id", req.ID), zap.String("platform", string(req.Platform)))
	start := time.Now()
	art, err := w.render(ctx, req)
	if err != nil {
		var gen domain.GenerationError
		if errors.As(err, &gen) {
			log.Error("wallet generation failed", zap.String("stage", gen.Stage), zap.Error(gen.Err))
		} else {
			log.Warn("wallet request failed", zap.Error(err))
		}
		_, ferr := w.Service.Fail(ctx, req.ID, err.Error())
		return ferr
	}
	report := validate.Check(art.Platform, art.Body)
	if !report.Valid {
		log.Warn("rendered artifact failed validation", zap.Strings("errors", report.Errors))
	}
	stored := domain.StoredArtifact{
		ContentType:    art.ContentType,
		Filename:       art.Filename,
		Body:           art.Body,
		SaveURL:        art.SaveURL,
		ValidationJSON: report.JSON(),
	}
	done, err := w.Service.Complete(ctx, req.ID, stored)
	if err != nil {
		return err
	}
	stored.RequestID = done.ID
	stored.Platform = done.Platform
	if err := w.Cache.Set(ctx, stored); err != nil {
		log.Warn("artifact cache write failed", zap.Error(err))
	}
	log.Info("wallet request completed", zap.Duration("elapsed", time.Since(start)), zap.Int("bytes", len(art.Body)), zap.Int("completion", report.Completion))
	return nil
}

func (w Worker) render(ctx context.Context, req domain.WalletRequest) (wallet.Artifact, error) {
	in, err := w.Loader.ForRequest(ctx, req)
	if err != nil {
		return wallet.Artifact{}, err
	}
	return w.Renderers.Render(ctx, req.Platform, in)
}
