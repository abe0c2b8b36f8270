package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// RenderOptions configures the headless browser.
type RenderOptions struct {
	Timeout            time.Duration
	WaitForSelector    string
	UserAgent          string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
	Logger             *slog.Logger
}

// ChromedpRenderer renders storefront pages in tabs of one shared Chrome process.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	logger    *slog.Logger

	once        sync.Once
	browser     context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
// Chrome is started on the first Render call.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		logger:    logger,
	}
}

func (r *ChromedpRenderer) start() {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browser, cancelTab := chromedp.NewContext(allocCtx)
	r.browser, r.cancelAlloc, r.cancelTab = browser, cancelAlloc, cancelTab
}

// Render navigates to the page, waits for the selector and exports the document HTML.
func (r *ChromedpRenderer) Render(parentCtx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, fmt.Errorf("render request URL is nil")
	}
	r.once.Do(r.start)

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return nil, parentCtx.Err()
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browser)
	defer cancelTab()
	ctx, cancel := context.WithTimeout(tabCtx, r.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(parentCtx, cancel)
	defer stop()

	logger := r.logger.With("slug", req.Slug, "url", req.URL.String())

	start := time.Now()
	var html, location string
	actions := []chromedp.Action{chromedp.Navigate(req.URL.String())}
	if sel := strings.TrimSpace(r.opts.WaitForSelector); sel != "" {
		actions = append(actions, chromedp.WaitReady(sel, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if int64(len(html)) > r.opts.MaxBodyBytes {
		return nil, fmt.Errorf("rendered document exceeds limit of %d bytes", r.opts.MaxBodyBytes)
	}

	finalURL := req.URL
	if u, err := url.Parse(location); err == nil && location != "" {
		finalURL = u
	}
	latency := time.Since(start)
	logger.Debug("render complete", "latency_ms", latency.Milliseconds(), "html_bytes", len(html))

	return &types.Page{
		URL:             req.URL,
		FinalURL:        finalURL,
		Slug:            req.Slug,
		Body:            []byte(html),
		ContentType:     "text/html; charset=utf-8",
		StatusCode:      200,
		FetchedAt:       time.Now(),
		Rendered:        true,
		ResponseLatency: latency,
	}, nil
}

// Close shuts down the browser if it was started.
func (r *ChromedpRenderer) Close() error {
	if r.cancelTab != nil {
		r.cancelTab()
		r.cancelAlloc()
	}
	return nil
}
