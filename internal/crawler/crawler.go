package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
	"github.com/nick-cb/game-reseller-scraper/internal/extract"
	"github.com/nick-cb/game-reseller-scraper/internal/fetcher"
	"github.com/nick-cb/game-reseller-scraper/internal/frontier"
	"github.com/nick-cb/game-reseller-scraper/internal/merge"
	"github.com/nick-cb/game-reseller-scraper/internal/query"
	robotsclient "github.com/nick-cb/game-reseller-scraper/internal/robots"
	"github.com/nick-cb/game-reseller-scraper/internal/storage"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

var tracer = otel.Tracer("gamecrawler/crawler")

// ErrBlockedByRobots reports a page disallowed by robots.txt.
var ErrBlockedByRobots = errors.New("blocked by robots.txt")

// Components are the collaborators of an Engine. Nil Robots skips robots checks;
// nil Storage skips persistence.
type Components struct {
	Fetcher fetcher.Fetcher
	Robots  *robotsclient.Agent
	Storage *storage.Pipeline
	Logger  *slog.Logger
	// Results receives every crawl result when set. Sends block until received or the run is cancelled.
	Results chan<- types.CrawlResult
	Closers []func() error
}

// Stats summarises a run.
type Stats struct {
	Pages    int64
	Records  int64
	Failures int64
	Visited  int
}

// Engine walks product pages outward from the seeds along related-product mappings.
type Engine struct {
	cfg      config.Config
	base     *url.URL
	runID    string
	fetcher  fetcher.Fetcher
	robots   *robotsclient.Agent
	storage  *storage.Pipeline
	merger   *merge.Merger
	limiter  *DomainLimiter
	results  chan<- types.CrawlResult
	logger   *slog.Logger
	frontier *frontier.Frontier

	mu      sync.Mutex
	parents map[string]string

	pages    atomic.Int64
	records  atomic.Int64
	failures atomic.Int64

	closers   []func() error
	closeOnce sync.Once
}

// NewEngine builds an engine and its collaborators from configuration.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, err := BuildLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return nil, err
	}
	comps := Components{Logger: logger}
	fail := func(err error) (*Engine, error) {
		for _, c := range comps.Closers {
			_ = c()
		}
		return nil, err
	}

	if cfg.Crawl.FixtureDir != "" {
		comps.Fetcher = fetcher.NewFixtureFetcher(cfg.Crawl.FixtureDir)
	} else {
		httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
			UserAgent:        cfg.Crawl.UserAgent,
			Headers:          cfg.Crawl.Headers,
			Timeout:          cfg.Crawl.RequestTimeout.Duration,
			MaxBodyBytes:     cfg.Crawl.MaxBodyBytes,
			ProxyURL:         cfg.Crawl.ProxyURL,
			CloudflareBypass: cfg.Crawl.CloudflareBypass,
			MaxRetries:       cfg.Worker.MaxRetries,
			RetryBackoff:     cfg.Worker.RetryBackoff.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("http fetcher: %w", err)
		}

		var renderer fetcher.Renderer
		if cfg.Rendering.Enabled {
			switch strings.ToLower(cfg.Rendering.Engine) {
			case "chromedp", "chrome":
				r := fetcher.NewChromedpRenderer(fetcher.RenderOptions{
					Timeout:            cfg.Rendering.Timeout.Duration,
					WaitForSelector:    cfg.Rendering.WaitForSelector,
					UserAgent:          cfg.Crawl.UserAgent,
					MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
					DisableHeadless:    cfg.Rendering.DisableHeadless,
					ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
					Logger:             logger,
				})
				renderer = r
				comps.Closers = append(comps.Closers, r.Close)
			case "none":
			default:
				return fail(fmt.Errorf("unsupported rendering engine %q", cfg.Rendering.Engine))
			}
		}
		comps.Fetcher = fetcher.NewComposite(httpFetcher, renderer, logger)
		comps.Robots = robotsclient.NewAgent(cfg.Robots, httpFetcher.Client(), logger)
	}

	var stores []storage.RecordStore
	if cfg.DB.Enabled() {
		sqlWriter, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			return fail(err)
		}
		stores = append(stores, sqlWriter)
		comps.Closers = append(comps.Closers, sqlWriter.Close)
	}
	if cfg.Output.Directory != "" {
		fileStore, err := storage.NewFileRecordStore(cfg.Output.Directory)
		if err != nil {
			return fail(err)
		}
		stores = append(stores, fileStore)
	}
	comps.Storage = storage.NewPipeline(stores...)

	engine, err := New(cfg, comps)
	if err != nil {
		return fail(err)
	}
	return engine, nil
}

// New builds an engine around the given components.
func New(cfg config.Config, comps Components) (*Engine, error) {
	if comps.Fetcher == nil {
		return nil, errors.New("engine requires a fetcher")
	}
	base, err := parseBase(cfg.Crawl.BaseURL)
	if err != nil {
		return nil, err
	}
	logger := comps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	return &Engine{
		cfg:      cfg,
		base:     base,
		runID:    runID,
		fetcher:  comps.Fetcher,
		robots:   comps.Robots,
		storage:  comps.Storage,
		merger:   merge.NewMerger(logger),
		limiter:  NewDomainLimiter(cfg.Crawl.PerDomainDelay.Duration, cfg.Crawl.RateLimitPerDomain),
		results:  comps.Results,
		logger:   logger,
		parents:  make(map[string]string),
		frontier: frontier.NewWithLimit(cfg.Crawl.MaxPages, cfg.Crawl.Seeds...),
		closers:  comps.Closers,
	}, nil
}

// RunID identifies this engine's run in logs and traces.
func (e *Engine) RunID() string { return e.runID }

// Run walks the frontier batch by batch until a batch comes back empty or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()
	seeds := e.cfg.Crawl.Seeds
	if len(seeds) == 0 {
		return errors.New("no crawl seeds configured")
	}

	ctx, span := tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("run_id", e.runID),
		attribute.StringSlice("seeds", seeds),
	))
	defer span.End()

	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency, e.cfg.Worker.QueueSize)
	if err != nil {
		return err
	}
	defer pool.Close()

	e.logger.Info("crawl started", "seeds", seeds, "max_pages", e.cfg.Crawl.MaxPages)

	for round := 1; ; round++ {
		batch := e.frontier.NextBatch()
		if len(batch) == 0 {
			break
		}
		e.logger.Debug("crawling batch", "round", round, "size", len(batch))
		jobs := make([]job, 0, len(batch))
		for _, slug := range batch {
			slug := slug
			jobs = append(jobs, func(workerCtx context.Context) {
				e.crawl(workerCtx, slug)
			})
		}
		if err := pool.RunBatch(ctx, jobs); err != nil {
			e.logger.Warn("context cancelled, shutting down", "error", err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if err := ctx.Err(); err != nil {
			e.logger.Warn("context cancelled, shutting down")
			return err
		}
	}

	stats := e.Stats()
	e.logger.Info("crawl finished",
		"pages", stats.Pages,
		"records", stats.Records,
		"failures", stats.Failures,
		"visited", stats.Visited,
	)
	return nil
}

// Stats reports counters for the current run.
func (e *Engine) Stats() Stats {
	return Stats{
		Pages:    e.pages.Load(),
		Records:  e.records.Load(),
		Failures: e.failures.Load(),
		Visited:  e.frontier.Len(),
	}
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			err = errors.Join(err, closer())
		}
	})
	return err
}

// crawl processes one slug: robots, politeness, fetch, extract, merge, persist, expand.
func (e *Engine) crawl(ctx context.Context, slug string) {
	req := types.CrawlRequest{
		URL:        PageURL(e.base, slug),
		Slug:       slug,
		Parent:     e.parentOf(slug),
		Render:     e.cfg.Rendering.Enabled,
		EnqueuedAt: time.Now(),
	}
	result := e.process(ctx, req)
	e.publish(ctx, result)
}

func (e *Engine) process(ctx context.Context, req types.CrawlRequest) types.CrawlResult {
	ctx, span := tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("slug", req.Slug),
		attribute.String("url", req.URL.String()),
	))
	defer span.End()

	logger := e.logger.With("slug", req.Slug)
	result := types.CrawlResult{Request: req}
	e.pages.Add(1)

	drop := func(outcome string, err error) types.CrawlResult {
		e.failures.Add(1)
		pagesTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		result.Error = err
		return result
	}

	if ctx.Err() != nil {
		return drop(outcomeCancelled, ctx.Err())
	}
	if !e.robots.Allowed(ctx, req.URL) {
		logger.Debug("blocked by robots", "url", req.URL.String())
		return drop(outcomeBlocked, ErrBlockedByRobots)
	}
	if err := e.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
		logger.Warn("domain limiter interrupted", "error", err)
		return drop(outcomeCancelled, err)
	}

	start := time.Now()
	page, err := e.fetcher.Fetch(ctx, req)
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("fetch failed", "url", req.URL.String(), "error", err)
		return drop(outcomeFetchFailed, err)
	}
	result.Page = page

	bundle, err := extract.ExtractBytes(page.Body)
	if err != nil {
		logger.Warn("state extraction failed", "error", err)
		return drop(outcomeMalformed, err)
	}
	span.SetAttributes(attribute.Int("queries", len(bundle)))

	record, err := e.merger.Merge(query.NewIndex(bundle), req.Slug)
	if err != nil {
		logger.Warn("record not built", "error", err)
		return drop(outcomeMissingOffer, err)
	}
	record.BaseItem = req.Parent
	result.Record = record

	outcome := outcomeSaved
	if err := e.storage.Persist(ctx, result); err != nil {
		logger.Error("persist failed", "error", err)
		span.RecordError(err)
		result.Error = err
		outcome = outcomePersistError
		e.failures.Add(1)
	} else {
		e.records.Add(1)
	}
	pagesTotal.WithLabelValues(outcome).Inc()

	result.Discovered = e.expand(req.Slug, record)
	logger.Info("page crawled",
		"title", record.Title,
		"images", len(record.Images),
		"discovered", len(result.Discovered),
	)
	return result
}

func (e *Engine) expand(parent string, record *types.GameRecord) []string {
	accepted := e.frontier.Expand(record)
	if len(accepted) == 0 {
		return nil
	}
	discoveredTotal.Add(float64(len(accepted)))
	e.mu.Lock()
	for _, slug := range accepted {
		e.parents[slug] = parent
	}
	e.mu.Unlock()
	return accepted
}

func (e *Engine) parentOf(slug string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parents[slug]
}

func (e *Engine) publish(ctx context.Context, result types.CrawlResult) {
	if e.results == nil {
		return
	}
	select {
	case e.results <- result:
	case <-ctx.Done():
	}
}

// BuildLogger returns a logger writing to w at the configured level, as JSON when structured.
func BuildLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
