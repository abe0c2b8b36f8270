package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"

	"github.com/nick-cb/game-reseller-scraper/internal/telemetry"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// Fetcher retrieves one product page.
type Fetcher interface {
	Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error)
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent        string
	Headers          map[string]string
	Timeout          time.Duration
	MaxBodyBytes     int64
	ProxyURL         string
	CloudflareBypass bool
	MaxRetries       int
	RetryBackoff     time.Duration
}

// HTTPFetcher implements Fetcher with a resty client.
type HTTPFetcher struct {
	client       *resty.Client
	maxBodyBytes int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.8")
	client.SetHeader("Accept-Encoding", "gzip, deflate, br")
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	}
	client.SetHeaders(opts.Headers)

	if strings.TrimSpace(opts.ProxyURL) != "" {
		if _, err := url.Parse(opts.ProxyURL); err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client.SetProxy(opts.ProxyURL)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.MaxRetries > 0 {
		client.SetRetryCount(opts.MaxRetries)
		client.SetRetryWaitTime(opts.RetryBackoff)
		client.SetRetryMaxWaitTime(4 * opts.RetryBackoff)
	}
	telemetry.InstrumentResty(client, "gamecrawler/fetcher/http")

	return &HTTPFetcher{client: client, maxBodyBytes: opts.MaxBodyBytes}, nil
}

// Fetch downloads the request URL and decodes its body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, errors.New("request URL is nil")
	}

	start := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}
	telemetry.RecordResponse(resp)
	raw := resp.RawResponse

	body, err := f.readBody(raw)
	if err != nil {
		return nil, err
	}
	if raw.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{URL: req.URL.String(), Code: raw.StatusCode}
	}

	finalURL := req.URL
	if raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL
	}

	return &types.Page{
		URL:             req.URL,
		FinalURL:        finalURL,
		Slug:            req.Slug,
		Body:            body,
		ContentType:     raw.Header.Get("Content-Type"),
		StatusCode:      raw.StatusCode,
		Headers:         raw.Header.Clone(),
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client.GetClient()
}

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, req types.CrawlRequest) (*types.Page, error)
}

// Composite chooses between raw HTTP and a renderer per request.
type Composite struct {
	http     Fetcher
	renderer Renderer
	logger   *slog.Logger
}

// NewComposite builds a composite fetcher from HTTP and optional renderer components.
func NewComposite(httpFetcher Fetcher, renderer Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{http: httpFetcher, renderer: renderer, logger: logger}
}

// Fetch uses the renderer when the request asks for it and falls back to HTTP on failure.
func (c *Composite) Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.Render && c.renderer != nil {
		page, err := c.renderer.Render(ctx, req)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("renderer failed, falling back to http fetch", "slug", req.Slug, "error", err)
	}
	req.Render = false
	return c.http.Fetch(ctx, req)
}
