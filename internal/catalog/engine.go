package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"magnetcatalog/internal/config"
	"magnetcatalog/internal/discovery"
	"magnetcatalog/internal/document"
	"magnetcatalog/internal/fetcher"
	"magnetcatalog/internal/logging"
	"magnetcatalog/internal/magnet"
	"magnetcatalog/internal/metrics"
	"magnetcatalog/internal/normalize"
	"magnetcatalog/internal/resolver"
	"magnetcatalog/internal/storage"
	"magnetcatalog/pkg/types"
)

// Engine runs the whole pipeline once: resolve, discover, build, dedupe, persist.
type Engine struct {
	cfg        config.Config
	resolver   *resolver.Resolver
	discoverer *discovery.Discoverer
	builder    *Builder
	storage    *storage.Pipeline
	metrics    *metrics.Run
	logger     *slog.Logger

	closers   []func() error
	closeOnce sync.Once
}

// Summary reports the outcome of a run.
type Summary struct {
	Endpoint   string
	Topics     int
	Skipped    int
	Empty      int
	Entries    int
	Duplicates int
	Duration   time.Duration
	Catalog    []types.CatalogEntry
}

// NewEngine builds an engine from configuration. Every component shares
// one HTTP client so session cookies persist for the whole run.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	closers := []func() error{logCloser.Close}
	fail := func(err error) (*Engine, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.Timeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		return fail(fmt.Errorf("http fetcher: %w", err))
	}

	var renderer fetcher.Renderer
	if cfg.Rendering.Enabled {
		switch strings.ToLower(cfg.Rendering.Engine) {
		case "chromedp", "chrome":
			renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
				Timeout:            cfg.Rendering.Timeout.Duration,
				WaitForSelector:    cfg.Rendering.WaitForSelector,
				UserAgent:          cfg.Fetch.UserAgent,
				MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
				DisableHeadless:    cfg.Rendering.DisableHeadless,
				ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
			}, logger)
		case "none":
		default:
			return fail(fmt.Errorf("unsupported rendering engine %q", cfg.Rendering.Engine))
		}
	}

	run := metrics.NewRun()
	limiter := fetcher.NewHostLimiter(cfg.Fetch.PerHostDelay.Duration, fetcher.RateLimiterSettings{
		Requests: cfg.Fetch.RateLimitPerHost.Requests,
		Window:   cfg.Fetch.RateLimitPerHost.Window.Duration,
	})
	base := fetcher.NewComposite(
		metrics.InstrumentFetcher(fetcher.WithLimiter(httpFetcher, limiter), run),
		renderer,
		logger,
	)
	// Mirror probes get exactly one attempt; topic and category fetches retry.
	retrying := fetcher.WithRetry(base, cfg.Fetch.MaxRetries, cfg.Fetch.RetryBackoff.Duration, logger)

	res := resolver.New(base, resolver.Options{
		IdentityMarkers: cfg.Mirrors.IdentityMarkers,
		ProbeTimeout:    cfg.Mirrors.ProbeTimeout.Duration,
	}, logger.With("component", "resolver"), run)

	disc := discovery.New(retrying, discovery.Options{
		MaxTopics:            cfg.Discovery.MaxTopics,
		MinAnchorText:        cfg.Discovery.MinAnchorText,
		EpisodicPass:         cfg.Discovery.EpisodicPass,
		Keywords:             cfg.Discovery.EpisodicKeywords,
		ListingSelector:      cfg.Discovery.ListingSelector,
		MaxCategoryPages:     cfg.Discovery.MaxCategoryPages,
		MaxTopicsPerCategory: cfg.Discovery.MaxTopicsPerCategory,
		Concurrency:          cfg.Worker.Concurrency,
	}, logger.With("component", "discovery"), run)

	norm := normalize.New(normalize.Options{
		NoiseMarkers:       cfg.Normalize.NoiseMarkers,
		SiteNames:          cfg.Normalize.SiteNames,
		PlaceholderTitle:   cfg.Normalize.PlaceholderTitle,
		PageTitleSelector:  cfg.Normalize.PageTitleSelector,
		BreadcrumbSelector: cfg.Normalize.BreadcrumbSelector,
	})

	var posters PosterLocalizer
	if cfg.Media.Enabled {
		cache, err := storage.NewPosterCache(cfg.Media, retrying, logger.With("component", "media"))
		if err != nil {
			return fail(fmt.Errorf("poster cache: %w", err))
		}
		posters = cache
	}

	builder := NewBuilder(
		retrying,
		norm,
		magnet.NewAssociator(cfg.Extract.HeadingSelector, cfg.Extract.MinHeadingText),
		posters,
		BuilderOptions{
			Concurrency:      cfg.Worker.Concurrency,
			AddedLayout:      cfg.Output.AddedLayout,
			PlaceholderImage: cfg.Output.PlaceholderImage,
		},
		logger.With("component", "builder"),
		run,
	)

	pipeline := storage.NewPipeline()
	if cfg.Output.JSONPath != "" {
		js, err := storage.NewJSONStore(cfg.Output.JSONPath)
		if err != nil {
			return fail(err)
		}
		pipeline.Add("json", js)
	}
	if cfg.Output.HTMLPath != "" {
		hs, err := storage.NewHTMLStore(cfg.Output.HTMLPath)
		if err != nil {
			return fail(err)
		}
		pipeline.Add("html", hs)
	}
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, sqlStore.Close)
		pipeline.Add("sql", sqlStore)
	}

	return &Engine{
		cfg:        cfg,
		resolver:   res,
		discoverer: disc,
		builder:    builder,
		storage:    pipeline,
		metrics:    run,
		logger:     logger,
		closers:    closers,
	}, nil
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Run executes one catalog build. Only an unreachable site, a cancelled
// context or a failing sink make it return an error.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	endpoint, err := e.resolver.Resolve(ctx, e.cfg.Mirrors.Candidates)
	if err != nil {
		return summary, err
	}
	summary.Endpoint = endpoint.String()

	homepage, err := document.Parse(endpoint.Homepage)
	if err != nil {
		return summary, fmt.Errorf("parse homepage: %w", err)
	}
	topics := e.discoverer.Discover(ctx, homepage)

	entries, stats := e.builder.Build(ctx, topics)
	if err := ctx.Err(); err != nil {
		e.logger.Warn("context cancelled, discarding partial catalog")
		return summary, err
	}
	catalog, duplicates := Dedupe(entries)
	e.metrics.ObserveCatalog(len(catalog), duplicates)

	summary.Topics = stats.Topics
	summary.Skipped = stats.Skipped
	summary.Empty = stats.Empty
	summary.Entries = len(catalog)
	summary.Duplicates = duplicates
	summary.Catalog = catalog

	persistErr := e.storage.Persist(ctx, catalog)
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.TextfilePath); err != nil {
		e.logger.Warn("metrics textfile not written", "error", err)
	}
	summary.Duration = time.Since(start)

	e.logger.Info("catalog run finished",
		"endpoint", summary.Endpoint,
		"topics", summary.Topics,
		"skipped", summary.Skipped,
		"without_magnets", summary.Empty,
		"entries", summary.Entries,
		"duplicates", summary.Duplicates,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	if persistErr != nil {
		return summary, fmt.Errorf("persist catalog: %w", persistErr)
	}
	return summary, nil
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		// Close in reverse so the log file outlives the stores.
		for i := len(e.closers) - 1; i >= 0; i-- {
			if cerr := e.closers[i](); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

var _ io.Closer = (*Engine)(nil)
