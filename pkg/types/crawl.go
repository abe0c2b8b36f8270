package types

import (
	"net/http"
	"net/url"
	"time"
)

// CrawlRequest models a work item taken from the crawl frontier.
type CrawlRequest struct {
	URL        *url.URL
	Slug       string
	Parent     string
	Render     bool
	EnqueuedAt time.Time
}

// Page represents the fetched content of one product page.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Slug            string
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// CrawlResult aggregates the outcome of processing a request.
type CrawlResult struct {
	Request    CrawlRequest
	Page       *Page
	Record     *GameRecord
	Discovered []string
	Error      error
}
