// Package app wires the process: every long-lived dependency is built here
// once and handed to the components that need it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rewardjar/internal/artifactcache"
	"rewardjar/internal/broker"
	"rewardjar/internal/config"
	"rewardjar/internal/db"
	"rewardjar/internal/events"
	"rewardjar/internal/logging"
	"rewardjar/internal/migrate"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
	"rewardjar/internal/server"
	"rewardjar/internal/simulator"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/apple"
	"rewardjar/internal/wallet/google"
	"rewardjar/internal/wallet/pwa"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sql.DB
	Dialect db.Dialect
	Repo    repo.Repo
	Queue   queue.Service
	Loader  wallet.Loader

	Apple     *apple.Renderer
	Google    *google.Renderer
	PWA       *pwa.Renderer
	Renderers wallet.Registry

	// Cache and Broker are nil unless configured.
	Cache  *artifactcache.Cache
	Broker *broker.Broker
}

// Options control what Open connects to beyond the database.
type Options struct {
	Workspace string
	// Offline skips Redis and NATS, for one-shot CLI commands.
	Offline bool
	Logger  *zap.Logger
}

// Open builds an App from cfg. The caller must Close it.
func Open(cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}
	dbCfg := db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: cfg.Database.Workspace}
	if opts.Workspace != "" && dbCfg.Workspace == "." {
		dbCfg.Workspace = opts.Workspace
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: conn, Dialect: dbCfg.Dialect()}
	if err := migrate.Migrate(conn, a.Dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.Queue = queue.New(conn, a.Dialect, cfg.Queue)
	a.Repo = a.Queue.Repo
	a.Loader = wallet.Loader{Store: a.Repo}

	a.Apple, err = apple.New(apple.Config{
		TeamIdentifier:     cfg.Apple.TeamIdentifier,
		PassTypeIdentifier: cfg.Apple.PassTypeIdentifier,
		OrganizationName:   cfg.Apple.OrganizationName,
		SignerCert:         cfg.Apple.SignerCert,
		SignerKey:          cfg.Apple.SignerKey,
		WWDRCert:           cfg.Apple.WWDRCert,
		P12:                cfg.Apple.P12,
		P12Password:        cfg.Apple.P12Password,
		AssetsDir:          cfg.Apple.AssetsDir,
		WebServiceURL:      cfg.Apple.WebServiceURL,
	})
	if err != nil {
		// Bad signing material leaves Apple unconfigured; the other platforms still serve.
		logger.Error("apple signing material unusable", zap.Error(err))
		a.Apple, _ = apple.New(apple.Config{TeamIdentifier: cfg.Apple.TeamIdentifier, PassTypeIdentifier: cfg.Apple.PassTypeIdentifier})
	}
	a.Google = google.New(google.Config{
		IssuerID:       cfg.Google.IssuerID,
		ServiceAccount: cfg.Google.ServiceAccount,
		Origins:        cfg.Google.Origins,
	})
	a.PWA = pwa.New(pwa.Config{BaseURL: cfg.Server.BaseURL})
	a.Renderers = wallet.NewRegistry(a.Apple, a.Google, a.PWA)
	for _, r := range []wallet.Renderer{a.Apple, a.Google, a.PWA} {
		if err := r.CheckConfig(); err != nil {
			logger.Warn("wallet platform not configured", zap.String("platform", string(r.Platform())), zap.Error(err))
		}
	}

	if opts.Offline {
		return a, nil
	}
	if cfg.Redis.Addr != "" {
		a.Cache = artifactcache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	}
	if cfg.NATS.URL != "" {
		b, err := broker.Connect(broker.Config{URL: cfg.NATS.URL, Token: cfg.NATS.Token})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.Broker = b
		subject := cfg.NATS.WakeSubject
		a.Queue.Notify = func() {
			if err := b.Notify(subject); err != nil {
				logger.Warn("worker wake-up publish failed", zap.Error(err))
			}
		}
	}
	return a, nil
}

func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	_ = a.Logger.Sync()
}

func (a *App) Simulator() simulator.Simulator {
	return simulator.Simulator{DB: a.DB, Repo: a.Repo, Queue: a.Queue, Logger: a.Logger.Named("simulator")}
}

// Handler builds the HTTP API.
func (a *App) Handler() (http.Handler, error) {
	cfg := a.Config
	return server.New(server.Config{
		DB:             a.DB,
		Repo:           a.Repo,
		Queue:          a.Queue,
		Loader:         a.Loader,
		Apple:          a.Apple,
		Google:         a.Google,
		PWA:            a.PWA,
		Simulator:      a.Simulator(),
		Cache:          a.Cache,
		Auth:           server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, TestToken: cfg.Auth.TestToken},
		Logger:         a.Logger,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
}

// Worker returns a queue worker. With NATS configured it also wakes on
// enqueue notifications; the returned func releases the subscription.
func (a *App) Worker(id string) (queue.Worker, func(), error) {
	w := queue.Worker{
		ID:        id,
		Service:   a.Queue,
		Loader:    a.Loader,
		Renderers: a.Renderers,
		Cache:     a.Cache,
		Logger:    a.Logger.Named("worker"),
	}
	if a.Broker == nil {
		return w, func() {}, nil
	}
	wake := make(chan struct{}, 1)
	sub, err := a.Broker.SubscribeWakeups(a.Config.NATS.WakeSubject, wake)
	if err != nil {
		return queue.Worker{}, nil, fmt.Errorf("subscribe wake-ups: %w", err)
	}
	w.Wake = wake
	return w, func() { _ = sub.Unsubscribe() }, nil
}

// Relays returns one relay to NATS when configured plus one per active webhook.
func (a *App) Relays() []*events.Relay {
	var out []*events.Relay
	if a.Broker != nil {
		out = append(out, &events.Relay{
			Source:        a.Repo,
			Publisher:     a.Broker,
			SubjectPrefix: a.Config.NATS.SubjectPrefix,
			Interval:      a.Config.NATS.RelayInterval,
			Logger:        a.Logger.Named("relay"),
		})
	}
	for _, hook := range a.Config.Webhooks {
		if !hook.Active() {
			continue
		}
		out = append(out, &events.Relay{
			Source:    a.Repo,
			Publisher: events.Webhook{URL: hook.URL, Secret: hook.Secret, Timeout: hook.Timeout},
			Types:     hook.Events,
			Interval:  a.Config.NATS.RelayInterval,
			Logger:    a.Logger.Named("webhook").With(zap.String("url", hook.URL)),
		})
	}
	return out
}

// RunOptions select the components Run starts.
type RunOptions struct {
	Addr    string
	Serve   bool
	Workers int
	Relay   bool
}

// Run starts the selected components and blocks until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	g, ctx := errgroup.WithContext(ctx)
	log := a.Logger

	if opts.Serve {
		handler, err := a.Handler()
		if err != nil {
			return err
		}
		addr := opts.Addr
		if addr == "" {
			addr = a.Config.Server.Addr
		}
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("serving rewardjar api", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for i := 0; i < opts.Workers; i++ {
		w, release, err := a.Worker(fmt.Sprintf("worker-%d", i+1))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer release()
			return w.RunForever(ctx)
		})
	}

	if opts.Relay {
		for _, r := range a.Relays() {
			r := r
			g.Go(func() error {
				r.Run(ctx)
				return nil
			})
		}
	}
	return g.Wait()
}
