package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// FixtureFetcher serves saved pages from <dir>/<slug>.html.
type FixtureFetcher struct {
	dir string
}

// NewFixtureFetcher returns a fetcher reading from dir.
func NewFixtureFetcher(dir string) *FixtureFetcher {
	return &FixtureFetcher{dir: dir}
}

// Fetch reads the saved page for req.Slug. A missing file is reported as a 404 StatusError.
func (f *FixtureFetcher) Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Slug == "" || strings.ContainsAny(req.Slug, `/\`) || req.Slug == ".." {
		return nil, fmt.Errorf("invalid fixture slug %q", req.Slug)
	}
	path := filepath.Join(f.dir, req.Slug+".html")
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &StatusError{URL: path, Code: 404}
	}
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return &types.Page{
		URL:         req.URL,
		FinalURL:    req.URL,
		Slug:        req.Slug,
		Body:        body,
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
		FetchedAt:   time.Now(),
	}, nil
}
