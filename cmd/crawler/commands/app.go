package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shelf-crawler/internal/browser"
	"github.com/maltedev/shelf-crawler/internal/config"
	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/database"
	"github.com/maltedev/shelf-crawler/internal/document"
	"github.com/maltedev/shelf-crawler/internal/jobs"
	"github.com/maltedev/shelf-crawler/internal/metrics"
	"github.com/maltedev/shelf-crawler/internal/proxy"
	"github.com/maltedev/shelf-crawler/internal/queue"
	"github.com/maltedev/shelf-crawler/internal/ratelimit"
	"github.com/maltedev/shelf-crawler/internal/session"
	"github.com/maltedev/shelf-crawler/internal/sink"
	"github.com/maltedev/shelf-crawler/internal/sites"
	"github.com/maltedev/shelf-crawler/internal/storage"
)

// datasetSink is what every configured sink offers.
type datasetSink interface {
	crawler.Sink
	Records(ctx context.Context, dataset string) ([]json.RawMessage, error)
}

// app holds the wired crawler and everything that must be closed after it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	crawler  *crawler.Orchestrator
	sink     datasetSink
	outbox   *database.OutboxRepository
	jobs     *jobs.Manager

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	var rdb *redis.Client
	if cfg.Proxy.HealthBackend == "redis" || cfg.Sink.Type == "postgres" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var health proxy.HealthStore = proxy.NewMemoryHealthStore()
	if cfg.Proxy.HealthBackend == "redis" {
		health = proxy.NewRedisHealthStore(rdb)
	}
	pool := proxy.NewPool(cfg.Proxy.URLs, health, cfg.Proxy.BurnCooldown, logger)

	sessions := session.NewManager(pool, cfg.Crawler.RetireAfterPages, logger)
	a.closers = append(a.closers, sessions.Close)
	docOpts := documentOptions(cfg)
	sessions.Register(crawler.BackendDocument, func(id, proxyURL string) (crawler.Session, error) {
		s, err := document.NewSession(id, proxyURL, docOpts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	launcher := &lazyLauncher{opts: browserOptions(cfg), logger: logger}
	a.closers = append(a.closers, launcher.Close)
	sessions.Register(crawler.BackendBrowser, launcher.open)

	var profiles []sites.Profile
	if cfg.Sites.ProfileFile != "" {
		if profiles, err = sites.LoadProfiles(cfg.Sites.ProfileFile); err != nil {
			return nil, err
		}
	}

	var store jobs.Store
	if cfg.Sink.Type == "postgres" {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}

		a.sink = database.NewDatasetSink(db, cfg.Redis.Stream)
		a.outbox = database.NewOutboxRepository(db)
		store = database.NewJobRepository(db)

		relay := database.NewRelay(a.outbox, rdb, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
		relayCtx, stopRelay := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := relay.Start(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
		a.closers = append(a.closers, func() error { stopRelay(); <-done; return nil })
	} else {
		local, err := openSink(cfg.Sink)
		if err != nil {
			return nil, err
		}
		a.sink = local
		a.closers = append(a.closers, local.Close)
		if store, err = storage.NewJobFile(cfg.Storage.JobsFile); err != nil {
			return nil, err
		}
	}

	blobs, err := storage.NewFileBlobStore(cfg.Storage.ScreenshotDir)
	if err != nil {
		return nil, err
	}

	orchestratorCfg := crawler.Config{
		Sites:    sites.NewRegistry(logger, profiles...),
		Sessions: sessions,
		Health:   health,
		Sink:     a.sink,
		Blobs:    blobs,
		Throttle: ratelimit.NewAdaptiveRateLimiter(cfg.Crawler.RateLimitMin, cfg.Crawler.RateLimitMax),
		Metrics:  m,
		Logger:   logger,
	}
	if rdb != nil {
		orchestratorCfg.NewAdmitter = func(jobID string) queue.Admitter {
			return queue.NewRedisVisitedSet(rdb, jobID, 0)
		}
	}
	a.crawler = crawler.New(orchestratorCfg)
	a.jobs = jobs.NewManager(a.crawler, store, a.options(), logger)

	return a, nil
}

func (a *app) options() crawler.Options {
	return crawler.Options{
		MaxRetries:      a.cfg.Crawler.MaxRetries,
		Concurrency:     a.cfg.Crawler.Concurrency,
		TakeScreenshot:  a.cfg.Crawler.TakeScreenshots,
		MaxListingPages: a.cfg.Crawler.MaxListingPages,
		WaitTimeout:     a.cfg.Crawler.PageTimeout,
		Retailer:        a.cfg.Crawler.Retailer,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

type localSink interface {
	datasetSink
	Close() error
}

func openSink(c config.SinkConfig) (localSink, error) {
	switch c.Type {
	case "file":
		return sink.NewFile(pathOr(c.Path, "datasets"))
	case "sqlite":
		return sink.NewSQLite(pathOr(c.Path, "datasets.db"))
	default:
		return sink.NewMemory(), nil
	}
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}

func documentOptions(cfg *config.Config) *document.Options {
	opts := document.DefaultOptions()
	opts.UserAgent = cfg.Browser.UserAgent
	opts.Timeout = cfg.Crawler.PageTimeout
	opts.Headers["Accept-Language"] = cfg.Browser.AcceptLanguage
	return opts
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.PageTimeout = cfg.Crawler.PageTimeout
	opts.NavigationTimeout = cfg.Crawler.NavigationTimeout
	opts.UserAgent = cfg.Browser.UserAgent
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.BlockResources = cfg.Crawler.BlockResources
	opts.ExtraHeaders["Accept-Language"] = cfg.Browser.AcceptLanguage
	return opts
}

// lazyLauncher starts playwright on the first browser session so runs that
// only touch document sites never launch Chromium.
type lazyLauncher struct {
	opts   *browser.Options
	logger *slog.Logger

	mu       sync.Mutex
	launcher *browser.Launcher
}

func (l *lazyLauncher) open(id, proxyURL string) (crawler.Session, error) {
	l.mu.Lock()
	if l.launcher == nil {
		launcher, err := browser.New(l.opts, l.logger)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		l.launcher = launcher
	}
	launcher := l.launcher
	l.mu.Unlock()

	s, err := launcher.NewSession(id, proxyURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (l *lazyLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launcher == nil {
		return nil
	}
	return l.launcher.Close()
}
