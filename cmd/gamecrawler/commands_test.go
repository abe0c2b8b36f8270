package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-cb/game-reseller-scraper/internal/merge"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

const savedState = `{"queries":[
{"queryKey":["getCatalogOffer"],"state":{"data":{"Catalog":{"catalogOffer":{"title":"Hades","id":"h1","namespace":"ns","keyImages":[{"type":"Thumbnail","url":"https://cdn/h.jpg","alt":"Hades"}]}}}}},
{"queryKey":["getMappingByPageSlug"],"state":{"data":{"StorePageMapping":{"mapping":{"pageSlug":"hades"}}}}}
]}`

func TestExtractCommandPrintsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hades.json")
	require.NoError(t, os.WriteFile(path, []byte(savedState), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"extract", path})
	require.NoError(t, cmd.Execute())

	var record types.GameRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "Hades", record.Title)
	assert.Equal(t, "hades", record.URL)
	require.NotNil(t, record.RefSlug)
	assert.Equal(t, "hades", *record.RefSlug)
	assert.Len(t, record.Images, 1)
}

func TestExtractCommandSlugFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, os.WriteFile(path, []byte(savedState), 0o644))

	var out bytes.Buffer
	require.NoError(t, runExtract(&out, path, "hades-custom"))
	assert.Contains(t, out.String(), `"url": "hades-custom"`)
}

func TestExtractCommandMissingOffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queries":[]}`), 0o644))

	err := runExtract(&bytes.Buffer{}, path, "")
	assert.ErrorIs(t, err, merge.ErrMissingQueryKind)
}

func TestCrawlCommandFromFixtures(t *testing.T) {
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	page := "<html><head><script>window.__REACT_QUERY_INITIAL_QUERIES__ = " + compact(t, savedState) + ";\n</script></head></html>"
	require.NoError(t, os.WriteFile(filepath.Join(pages, "hades.html"), []byte(page), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("output:\n  directory: "+out+"\nlogging:\n  level: error\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "crawl", "--seed", "hades", "--fixtures", pages})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(out, "hades.json"))
	assert.NoError(t, err)
}

func TestCrawlCommandExplicitConfigMustExist(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "crawl", "--seed", "hades"})
	assert.Error(t, cmd.Execute())
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func compact(t *testing.T, doc string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, []byte(doc)))
	return buf.String()
}

func TestItemsCommandListsCrawledRecords(t *testing.T) {
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	page := "<html><head><script>window.__REACT_QUERY_INITIAL_QUERIES__ = " + compact(t, savedState) + ";\n</script></head></html>"
	require.NoError(t, os.WriteFile(filepath.Join(pages, "hades.html"), []byte(page), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "db:\n  driver: sqlite\n  dsn: file:" + filepath.Join(dir, "games.db") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	crawl := newRootCmd()
	crawl.SetArgs([]string{"--config", cfgPath, "crawl", "--seed", "hades", "--fixtures", pages})
	require.NoError(t, crawl.Execute())

	var out bytes.Buffer
	list := newRootCmd()
	list.SetOut(&out)
	list.SetArgs([]string{"--config", cfgPath, "items", "--search", "had"})
	require.NoError(t, list.Execute())

	var result struct {
		Total int64 `json:"total"`
		Items []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, int64(1), result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "hades", result.Items[0].URL)
}
