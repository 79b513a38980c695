package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mtr002/wishlist-jobs/internal/cache"
	"github.com/mtr002/wishlist-jobs/internal/config"
	"github.com/mtr002/wishlist-jobs/internal/db"
	"github.com/mtr002/wishlist-jobs/internal/fetch"
	"github.com/mtr002/wishlist-jobs/internal/ingest"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/nats"
	"github.com/mtr002/wishlist-jobs/internal/settings"
	"github.com/mtr002/wishlist-jobs/internal/websocket"
	"github.com/mtr002/wishlist-jobs/internal/worker"
)

// App is the wired object graph shared by the worker daemon, the CLI and the admin server.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Store     *db.Store
	Wishes    *db.WishStore
	Manager   *jobs.Manager
	Runner    *worker.Runner
	Cache     cache.Cache
	Publisher *nats.Client
}

type Option func(*buildOptions)

type buildOptions struct {
	migrate bool
	hub     *websocket.Hub
}

// WithMigrations applies pending migrations after connecting.
func WithMigrations() Option {
	return func(o *buildOptions) { o.migrate = true }
}

// WithHub makes finished batches broadcast to websocket clients.
func WithHub(hub *websocket.Hub) Option {
	return func(o *buildOptions) { o.hub = hub }
}

// New connects to every configured backend and assembles the runner. Redis and NATS
// are optional; a failed connection to either is logged and the feature is disabled.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	database, err := db.Connect(ctx, db.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, err
	}

	if o.migrate {
		if err := db.RunMigrations(ctx, database); err != nil {
			database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	a := &App{
		Config: cfg,
		DB:     database,
		Store:  db.NewStore(database),
		Wishes: db.NewWishStore(database),
		Cache:  cache.Nop{},
	}
	a.Manager = jobs.NewManager(a.Store)

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err == nil {
			err = rc.Ping(ctx)
		}
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("Redis unavailable, batch reports will not be cached")
		} else {
			a.Cache = rc
		}
	}

	if cfg.NATS.URL != "" {
		pub, err := nats.NewClient(cfg.NATS.URL)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("NATS unavailable, batch reports will not be published")
		} else {
			a.Publisher = pub
		}
	}

	fetcher := fetch.New(
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithRateLimit(cfg.Fetch.RatePerSecond),
	)
	src := settings.NewDBSource(database, settings.DefaultUploads())
	ingestor := ingest.New(a.Wishes, fetcher, src, cfg.Uploads.PublicPrefix)

	ropts := []worker.RunnerOption{
		worker.WithReportSink(a.Cache),
		worker.WithJobStatusSink(a.Cache),
	}
	if a.Publisher != nil {
		ropts = append(ropts, worker.WithReportSink(a.Publisher))
	}
	if o.hub != nil {
		ropts = append(ropts, worker.WithReportSink(o.hub))
	}

	a.Runner = worker.NewRunner(a.Manager, a.Wishes, &worker.ImageFetchProcessor{Ingestor: ingestor}, worker.Options{
		ZombieAfter: cfg.Worker.ZombieAfter(),
		SeedBatch:   cfg.Worker.SeedBatch,
		RetryDelay:  cfg.Worker.RetryDelay(),
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, ropts...)

	return a, nil
}

// NewPool builds the scheduled pool from the worker section of the config.
func (a *App) NewPool() *worker.Pool {
	return worker.NewPool(a.Runner, worker.PoolConfig{
		WorkerCount: a.Config.Worker.Count,
		Schedule:    a.Config.Worker.Schedule,
		MaxJobs:     a.Config.Worker.MaxJobs,
		MaxDuration: a.Config.Worker.MaxDuration(),
	})
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if err := a.Cache.Close(); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to close cache")
	}
	if err := a.DB.Close(); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to close database")
	}
}
