// Package app wires the engine together from a Config and runs its
// long-lived parts: the sync scheduler and the health endpoint.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voyagehub/assetsync/internal/cache"
	"github.com/voyagehub/assetsync/internal/config"
	"github.com/voyagehub/assetsync/internal/health"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/queue"
	"github.com/voyagehub/assetsync/internal/repositories/records"
	"github.com/voyagehub/assetsync/internal/repositories/repomanager"
	"github.com/voyagehub/assetsync/internal/scheduler"
	"github.com/voyagehub/assetsync/internal/settings"
	"github.com/voyagehub/assetsync/internal/storage"
)

const storagePingTimeout = 5 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger

	repos    *repomanager.Manager
	memory   *cache.Memory
	redis    *cache.Redis
	cache    cache.Cache
	queue    *queue.Queue
	store    *storage.S3Store
	storage  *storage.Service
	settings *settings.Resolver

	scheduler *scheduler.Scheduler
	health    *health.Server
}

// NewApp builds every component. Credential problems (common.ErrAuthConfig)
// abort; an unreachable Postgres or Redis only degrades the engine.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, logging.NewJSONLogger(c.LogLevel))
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, err := storage.NewS3Store(ctx, storage.StoreConfig{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		BaseEndpoint:    c.S3BaseEndpoint,
		AccessKey:       c.S3AccessKey,
		SecretKey:       c.S3SecretKey,
		CredentialsFile: c.S3CredentialsFile,
		PublicBaseURL:   c.PublicBaseURL,
		PresignExpiry:   c.PresignExpiry,
		ConnectTimeout:  c.HTTPConnectTimeout,
		ReadTimeout:     c.HTTPReadTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}
	app.store = store

	app.repos, err = repomanager.New(ctx, c.DatabaseDSN, c.LedgerPath, logger)
	if err != nil {
		return nil, err
	}

	app.memory = cache.NewMemory(cache.WithMaxSize(c.MemoryCacheSize), cache.WithSweepInterval(c.MemoryCacheSweep))
	var distributed cache.Cache
	if c.RedisAddr != "" {
		app.redis = cache.NewRedisFromAddr(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB, c.RedisProbeTimeout, logger)
		distributed = app.redis
	}
	app.cache = cache.NewTiered(distributed, app.memory)

	app.settings, err = settings.NewResolver(app.repos.Overrides(), logger, settings.WithCache(app.cache, c.SettingsCacheTTL))
	if err != nil {
		return nil, err
	}

	app.queue = queue.New(c.QueueMaxConcurrent, queue.WithAdmitInterval(c.QueueAdmitInterval), queue.WithLogger(logger))
	folders := storage.NewHierarchy(store, app.cache, c.FolderCacheTTL, logger)
	app.storage = storage.NewService(store, folders, app.settings, app.queue, logger)

	app.scheduler, err = app.newScheduler(ctx)
	if err != nil {
		return nil, err
	}

	app.health = health.NewServer(c.HealthAddrGRPC, 0, logger)
	app.health.AddCheck("storage", true, func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, storagePingTimeout)
		defer cancel()
		return store.Ping(ctx) == nil
	})
	app.health.AddCheck("cache", false, func(ctx context.Context) bool {
		if app.redis == nil {
			return true
		}
		return app.redis.Available()
	})

	return app, nil
}

func (app *App) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	c := app.config

	targets := make([]scheduler.Target, 0, len(c.SyncTargets))
	for _, t := range c.SyncTargets {
		if _, err := settings.ParseKey(t.StorageKey); err != nil {
			return nil, fmt.Errorf("sync target %s: %w", t.LocalDirectory, err)
		}
		targets = append(targets, scheduler.Target{
			LocalDirectory: t.LocalDirectory,
			StorageKey:     t.StorageKey,
			RetentionDays:  t.RetentionDays,
		})
	}

	opts := []scheduler.Option{scheduler.WithGraceWindow(c.SyncGraceWindow)}
	if rec := app.repos.Records(); rec != nil && len(c.ExportKinds) > 0 {
		kinds := make([]records.Kind, 0, len(c.ExportKinds))
		for _, name := range c.ExportKinds {
			k, err := records.ParseKind(name)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
		if _, err := settings.ParseKey(c.ExportStorageKey); err != nil {
			return nil, fmt.Errorf("export storage key: %w", err)
		}
		opts = append(opts, scheduler.WithExports(rec, c.ExportStorageKey, kinds...))
	} else if len(c.ExportKinds) > 0 {
		app.logger.Warn(ctx, "record exports disabled, no database")
	}

	return scheduler.New(app.storage, app.repos.Ledger(), targets, app.logger, opts...), nil
}

func (app *App) Settings() *settings.Resolver {
	return app.settings
}

func (app *App) Storage() *storage.Service {
	return app.storage
}

func (app *App) Scheduler() *scheduler.Scheduler {
	return app.scheduler
}

// ResetCache re-probes the distributed cache and drops memoized folder
// paths from every tier. It reports whether the distributed cache is
// configured and reachable, and how many folder entries were removed.
func (app *App) ResetCache(ctx context.Context) (bool, int) {
	up := false
	if app.redis != nil {
		up = app.redis.Reset(ctx)
	}
	return up, app.storage.InvalidateFolders(ctx)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the scheduler and the health server and blocks until a
// termination signal arrives, ctx ends or one of them fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.scheduler.Start(ctx, app.config.SyncInterval)
	})
	g.Go(func() error {
		return app.health.Run(ctx)
	})

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped", "error", err)
	return err
}

// Close drains queued uploads and releases connections.
func (app *App) Close() {
	ctx := context.Background()
	if app.queue != nil {
		app.queue.Close()
	}
	if app.memory != nil {
		app.memory.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close error", "error", err)
		}
	}
	if app.repos != nil {
		if err := app.repos.Close(); err != nil {
			app.logger.Warn(ctx, "database close error", "error", err)
		}
	}
}
