package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hamychatgpt/Rasad-v2/internal/api"
	"github.com/hamychatgpt/Rasad-v2/internal/collect"
	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/events"
	"github.com/hamychatgpt/Rasad-v2/internal/fetch"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/schedule"
	"github.com/hamychatgpt/Rasad-v2/internal/store"
	"github.com/hamychatgpt/Rasad-v2/internal/store/memory"
)

// App holds every wired component of one process.
type App struct {
	Config  config.Config
	Log     logger.Logger
	Metrics *metrics.Metrics
	Pool    *credentials.Pool
	Sched   *schedule.Scheduler
	Ingest  *ingest.Service
	Runner  *collect.Runner
	API     *api.API

	closers []io.Closer
}

type ports struct {
	posts  ingest.Repository
	creds  credentials.Store
	sched  schedule.Store
	closer io.Closer
}

func openPorts(ctx context.Context, cfg config.DatabaseConfig) (ports, error) {
	switch cfg.Driver {
	case "memory":
		m := memory.New()
		return ports{posts: m, creds: m, sched: m}, nil
	case "postgres":
		db, err := store.Open(ctx, cfg)
		if err != nil {
			return ports{}, err
		}
		return ports{
			posts:  store.NewPostRepository(db.DB),
			creds:  store.NewCredentialRepository(db.DB),
			sched:  store.NewScheduleRepository(db.DB),
			closer: db,
		}, nil
	}
	return ports{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func publisher(cfg config.RedisConfig, log logger.Logger) (events.Publisher, io.Closer) {
	if cfg.Address == "" {
		return events.Nop{}, nil
	}
	client, err := events.NewRedisClient(cfg.Address, cfg.Password, cfg.DB)
	if err != nil {
		log.Warn("Redis unavailable, state events are not published", logger.Error(err))
		return events.Nop{}, nil
	}
	return events.NewRedisPublisher(client, cfg.Channel), client
}

// Build wires storage, the credential pool, the scheduler, ingestion and
// collection from cfg.
func Build(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	p, err := openPorts(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if p.closer != nil {
		app.closers = append(app.closers, p.closer)
	}

	pub, pubCloser := publisher(cfg.Redis, log)
	if pubCloser != nil {
		app.closers = append(app.closers, pubCloser)
	}

	app.Pool, err = credentials.NewPool(ctx, p.creds,
		credentials.WithLogger(log.With(logger.String("component", "credentials"))),
		credentials.WithPublisher(pub),
		credentials.WithMetrics(app.Metrics),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	app.Sched, err = schedule.New(ctx, p.sched, schedule.BasesFromConfig(cfg.Scheduling), schedule.TopicsFromConfig(cfg),
		schedule.WithLogger(log.With(logger.String("component", "scheduler"))),
		schedule.WithPublisher(pub),
		schedule.WithMetrics(app.Metrics),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load schedules: %w", err)
	}

	app.Ingest = ingest.New(p.posts, cfg.TrackedAccounts, nil,
		ingest.WithLogger(log.With(logger.String("component", "ingest"))),
		ingest.WithMetrics(app.Metrics),
	)

	collectLog := log.With(logger.String("component", "collect"))
	client := fetch.NewClient(cfg.Fetch, fetch.WithLogger(collectLog), fetch.WithMetrics(app.Metrics))
	keywords := collect.NewKeywordCollector(app.Pool, client, app.Ingest, cfg.Collection, collectLog)
	accounts := collect.NewAccountCollector(app.Pool, client, app.Ingest, app.Sched, cfg, collectLog)
	app.Runner = collect.NewRunner(app.Sched, keywords, keywords, accounts, cfg.Scheduling, collectLog,
		collect.WithRunnerMetrics(app.Metrics))

	app.API = api.New(app.Ingest, app.Sched, app.Pool, app.Runner)

	if cfg.AccountsFile != "" {
		app.importAccountsFile(ctx)
	}
	return app, nil
}

// importAccountsFile seeds the pool from the configured accounts file. A
// missing file is not fatal.
func (a *App) importAccountsFile(ctx context.Context) {
	creds, err := ReadAccountsFile(a.Config.AccountsFile)
	if errors.Is(err, os.ErrNotExist) {
		a.Log.Warn("Accounts file not found", logger.String("path", a.Config.AccountsFile))
		return
	}
	if err != nil {
		a.Log.Error("Read accounts file failed", logger.String("path", a.Config.AccountsFile), logger.Error(err))
		return
	}
	added, err := a.API.ImportCredentials(ctx, creds)
	if err != nil {
		a.Log.Error("Import accounts failed", logger.Error(err))
	}
	a.Log.Info("Accounts file imported",
		logger.String("path", a.Config.AccountsFile),
		logger.Int("read", len(creds)),
		logger.Int("added", added),
	)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.Warn("Close failed", logger.Error(err))
		}
	}
	a.closers = nil
}
