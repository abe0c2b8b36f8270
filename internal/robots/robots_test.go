package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
)

func robotsServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func target(t *testing.T, base, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(base + path)
	require.NoError(t, err)
	return u
}

func TestAllowedFollowsRulesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := robotsServer(t, "User-agent: *\nDisallow: /checkout\n", &hits)

	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "gamecrawler", CacheTTL: config.DurationFrom(time.Hour)}, srv.Client(), nil)
	ctx := context.Background()

	assert.True(t, agent.Allowed(ctx, target(t, srv.URL, "/en-US/p/rain-world-4c860c")))
	assert.False(t, agent.Allowed(ctx, target(t, srv.URL, "/checkout/cart")))
	assert.Equal(t, int32(1), hits.Load())

	agent.Purge(target(t, srv.URL, "").Host)
	agent.Allowed(ctx, target(t, srv.URL, "/"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestAllowedHonoursOverridesAndRespectFlag(t *testing.T) {
	var hits atomic.Int32
	srv := robotsServer(t, "User-agent: *\nDisallow: /\n", &hits)
	page := target(t, srv.URL, "/en-US/p/hades")

	off := NewAgent(config.RobotsConfig{Respect: false}, srv.Client(), nil)
	assert.True(t, off.Allowed(context.Background(), page))

	override := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "gamecrawler", Overrides: []string{page.Hostname()}}, srv.Client(), nil)
	assert.True(t, override.Allowed(context.Background(), page))
	assert.Equal(t, int32(0), hits.Load())

	strict := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "gamecrawler"}, srv.Client(), nil)
	assert.False(t, strict.Allowed(context.Background(), page))
}

func TestAllowedRejectsRelativeTargets(t *testing.T) {
	agent := NewAgent(config.RobotsConfig{Respect: true}, nil, nil)
	assert.False(t, agent.Allowed(context.Background(), &url.URL{Path: "/p/hades"}))
	assert.False(t, agent.Allowed(context.Background(), nil))
}
