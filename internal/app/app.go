// Package app wires the link checker's components together.
package app

import (
	"context"
	"errors"
	"fmt"

	fiberredis "github.com/gofiber/storage/redis/v3"

	"linkcheck/internal/cache"
	"linkcheck/internal/checker"
	"linkcheck/internal/config"
	"linkcheck/internal/coordinator"
	"linkcheck/internal/db"
	"linkcheck/internal/exclusion"
	"linkcheck/internal/handlers"
	"linkcheck/internal/handlers/api"
	"linkcheck/internal/jobs"
	"linkcheck/internal/linksource"
	"linkcheck/internal/logger"
	"linkcheck/internal/metrics"
	"linkcheck/internal/models"
	"linkcheck/internal/server"
	"linkcheck/internal/throttle"
)

// App holds the wired components of a running link checker.
type App struct {
	Cfg         *config.Config
	Log         logger.Logger
	DB          *db.DB
	Cache       cache.ResultCache
	Throttle    *throttle.CrawlDelay
	Registry    *checker.Registry
	Coordinator *coordinator.Coordinator
	Scheduler   *jobs.Scheduler

	redis *fiberredis.Storage
}

// New connects to the database (and Redis when configured) and builds every
// component. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{Cfg: cfg, Log: log, DB: database}
	if cfg.UsesRedis() {
		if cfg.RedisURL == "" {
			database.Close()
			return nil, errors.New("REDIS_URL is required when CACHE_BACKEND=redis or THROTTLE_SHARED is set")
		}
		a.redis = fiberredis.New(fiberredis.Config{URL: cfg.RedisURL})
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg, log := a.Cfg, a.Log

	var kv cache.KV
	if a.redis != nil {
		kv = a.redis
	}
	a.Cache = newResultCache(cfg, a.DB, kv, log)

	th, err := newThrottle(cfg, a.redis, log)
	if err != nil {
		return err
	}
	a.Throttle = th

	ext, err := checker.NewExternalChecker(&cfg.Checker, checker.Deps{
		Excluder: exclusion.NewMatcher(a.DB, cfg.ExclusionScopePageID, log.With(logger.String("component", "exclusion"))),
		Cache:    a.Cache,
		Throttle: a.Throttle,
	}, log.With(logger.String("component", "checker")))
	if err != nil {
		return fmt.Errorf("build external checker: %w", err)
	}
	a.Registry = checker.NewRegistry()
	a.Registry.Register(checker.LinkTypeExternal, ext)

	a.Coordinator = coordinator.New(
		a.Registry,
		linksource.New(a.DB, log.With(logger.String("component", "linksource"))),
		a.DB,
		log.With(logger.String("component", "coordinator")),
		coordinator.Options{
			Workers:        cfg.Workers,
			ShowAll:        cfg.ShowAllLinks,
			ExclusionScope: cfg.ExclusionScopePageID,
			Cache:          a.Cache,
			Throttle:       a.Throttle,
		},
	)

	a.Scheduler, err = jobs.NewScheduler(a.Coordinator, cfg.CheckSchedule, log.With(logger.String("component", "scheduler")))
	if err != nil {
		return err
	}

	metrics.Init(a.DB, log)
	return nil
}

// newResultCache picks the configured result cache backend.
func newResultCache(cfg *config.Config, store cache.EntryStore, kv cache.KV, log logger.Logger) cache.ResultCache {
	if cfg.CacheBackend == config.CacheBackendRedis && kv != nil {
		log.Info("Using Redis result cache")
		return cache.NewStorageCache(kv, cfg.Checker.CacheExpiresShort, cfg.Checker.CacheExpiresLong, log)
	}
	return cache.NewPostgresCache(store, cfg.Checker.CacheExpiresShort, log)
}

// newThrottle builds the crawl-delay throttle, sharing suspensions through
// Redis when configured.
func newThrottle(cfg *config.Config, storage *fiberredis.Storage, log logger.Logger) (*throttle.CrawlDelay, error) {
	var opts []throttle.Option
	if cfg.ThrottleShared && storage != nil {
		opts = append(opts, throttle.WithSharedSuspensions(throttle.NewRedisSuspensions(storage.Conn())))
		log.Info("Sharing domain suspensions through Redis")
	}
	th, err := throttle.New(cfg.Checker.CrawlDelay, cfg.Checker.CrawlDelayNoDelay, log.With(logger.String("component", "throttle")), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid no-delay domains: %w", err)
	}
	return th, nil
}

// Migrate applies pending database migrations.
func (a *App) Migrate() error {
	if err := a.DB.RunMigrations(a.Cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.Log.Info("Migrations completed successfully")
	return nil
}

// SeedExclusions creates the given rules when they do not exist yet.
func (a *App) SeedExclusions(ctx context.Context, rules []models.ExclusionRule) error {
	for i := range rules {
		inserted, err := a.DB.EnsureExclusionRule(ctx, &rules[i])
		if err != nil {
			return fmt.Errorf("seed exclusion %s: %w", rules[i].Target, err)
		}
		if inserted {
			a.Log.Info("Seeded exclusion rule",
				logger.String("match_type", string(rules[i].MatchType)),
				logger.String("target", rules[i].Target),
			)
		}
	}
	return nil
}

// Server builds the HTTP server with all routes registered.
func (a *App) Server() *server.Server {
	s := server.New(a.Cfg, a.Log.With(logger.String("component", "server")))
	s.RegisterRoutes(server.Handlers{
		Probe:       handlers.NewProbeHandler(a.DB),
		Checks:      api.NewChecksHandler(a.Scheduler, a.Log),
		Recheck:     api.NewRecheckHandler(a.Coordinator, a.Cfg.BlockPrivateTargets, a.Log),
		BrokenLinks: api.NewBrokenLinkHandler(a.DB, a.Log),
		Exclusions:  api.NewExclusionHandler(a.DB, a.Coordinator, a.Log),
	})
	return s
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn("Failed to close Redis", logger.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
