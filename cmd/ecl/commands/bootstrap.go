package commands

import (
	"context"
	"fmt"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/eventlog"
	"github.com/wonny/ifrs9-ecl/internal/external/fxrate"
	"github.com/wonny/ifrs9-ecl/internal/metrics"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
	"github.com/wonny/ifrs9-ecl/internal/runkey"
	"github.com/wonny/ifrs9-ecl/pkg/config"
	"github.com/wonny/ifrs9-ecl/pkg/database"
	"github.com/wonny/ifrs9-ecl/pkg/httputil"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
	"github.com/wonny/ifrs9-ecl/pkg/redis"
)

// app holds the wired dependencies shared by every command
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	redis   *redis.Client
	sink    *eventlog.Sink
	logs    *eventlog.Repository
	metrics *metrics.Metrics
	issuer  *runkey.Service
	deps    pipeline.Deps
}

// newApp loads config and connects every collaborator
func newApp() (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 4. Redis (disabled client when REDIS_ENABLED=false)
	rc, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 5. Logging sink → ecl.process_log
	logs := eventlog.NewRepository(db.Pool)
	sink := eventlog.New(log, logs)

	// 6. Engine configuration: YAML + DB overlay
	calibration := eclconfig.NewRepository(db.Pool)
	source := eclconfig.NewProvider(cfg.Engine.ConfigPath, calibration, log)

	// 7. Currency rates: cache → ecl.exchange_rates → live API
	var live fxrate.Fetcher
	if cfg.FX.BaseURL != "" {
		httpClient := httputil.New(httputil.FXOptions(cfg.FX), log)
		live = fxrate.NewClient(httpClient, cfg.FX.BaseURL, cfg.FX.APIKey, log)
	}
	rates := fxrate.NewProvider(fxrate.NewRepository(db.Pool), redis.NewCache(rc, "ecl"), live, source, cfg.FX.CacheTTL, log)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	opts := batch.Options{
		Workers:    cfg.Engine.Workers,
		ChunkSize:  cfg.Engine.ChunkSize,
		Retries:    cfg.Engine.RetryAttempts,
		RetryDelay: cfg.Engine.RetryDelay,
	}
	issuer := runkey.NewService(db.Pool, opts, log)

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		redis:   rc,
		sink:    sink,
		logs:    logs,
		metrics: m,
		issuer:  issuer,
		deps: pipeline.Deps{
			DB:          db.Pool,
			Config:      source,
			Calibration: calibration,
			Rates:       rates,
			Issuer:      issuer,
			Options:     opts,
			Logger:      log,
			Sink:        sink,
		},
	}, nil
}

// orchestrator wires every stage runner behind the process store
func (a *app) orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(pipeline.NewRunners(a.deps), pipeline.NewRepository(a.db.Pool), a.metrics, a.log, a.sink)
}

// ensureSchema applies the idempotent DDL
func (a *app) ensureSchema(ctx context.Context) error {
	return a.db.Migrate(ctx)
}

// Close flushes the sink and releases connections
func (a *app) Close() {
	a.sink.Close()
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("redis close failed")
	}
	a.db.Close()
}
