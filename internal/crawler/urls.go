package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// SlugFromURL returns the last non-empty path segment of a product page URL.
func SlugFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

// PageURL joins slug onto the store base URL.
func PageURL(base *url.URL, slug string) *url.URL {
	return base.JoinPath(slug)
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}
	return u, nil
}
