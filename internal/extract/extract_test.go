package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-cb/game-reseller-scraper/internal/query"
	"github.com/nick-cb/game-reseller-scraper/internal/tree"
)

const stateJSON = `{"queries":[` +
	`{"queryKey":["getCatalogOffer",{"offerId":"1efa9feb"}],"state":{"data":{"Catalog":{"catalogOffer":{"title":"Rain World"}}}}},` +
	`{"queryKey":["egs-platform","rain-world"],"state":{"data":{"branding":{"primary":"#000"}}}}` +
	`]}`

func page(scripts ...string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Rain World</title>")
	for _, s := range scripts {
		b.WriteString("<script>")
		b.WriteString(s)
		b.WriteString("</script>")
	}
	b.WriteString("</head><body><div id=\"root\"></div></body></html>")
	return b.String()
}

func assignment(payload string) string {
	return "window." + Sentinel + " = " + payload + ";\nwindow.__OTHER__ = 1;"
}

func TestExtractRoundTrip(t *testing.T) {
	want, err := Decode([]byte(stateJSON))
	require.NoError(t, err)
	require.Len(t, want, 2)

	got, err := Extract(page("console.log('boot')", assignment(stateJSON)))
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmp.AllowUnexported(tree.Tree{})); diff != "" {
		t.Fatalf("bundle mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, query.KindCatalogOffer, got[0].Kind())
	assert.Equal(t, query.KindPlatform, got[1].Kind())
}

func TestExtractLastSentinelWins(t *testing.T) {
	second := `{"queries":[{"queryKey":["getStoreConfig"],"state":{"data":{}}}]}`
	got, err := Extract(page(assignment(stateJSON), assignment(second)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, query.KindStoreConfig, got[0].Kind())
}

func TestExtractMalformedState(t *testing.T) {
	cases := map[string]string{
		"no sentinel":     page("var x = 1;\n"),
		"no scripts":      "<html><body>nothing</body></html>",
		"bad json":        page(assignment(`{"queries": [`)),
		"missing queries": page(assignment(`{"mutations":[]}`)),
		"queries object":  page(assignment(`{"queries":{}}`)),
		"no newline":      page("window." + Sentinel + " = " + stateJSON + ";"),
		"no space":        page("window." + Sentinel + "=" + stateJSON + ";\n"),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Extract(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedState), err.Error())
		})
	}
}

func TestPayloadOffsets(t *testing.T) {
	script := "x." + Sentinel + " = {\"a\":1};\nnext();"
	payload, err := Payload(script)
	require.NoError(t, err)
	assert.Equal(t, ` {"a":1}`, payload)
}

func TestDecodeSkipsEntriesWithoutKey(t *testing.T) {
	bundle, err := Decode([]byte(`{"queries":[{"state":{}},"junk",{"queryKey":["getProductResult"],"state":{}}]}`))
	require.NoError(t, err)
	require.Len(t, bundle, 1)
	assert.Equal(t, query.KindProductResult, bundle[0].Kind())
}

func TestExtractBytesRejectsEmptyBody(t *testing.T) {
	_, err := ExtractBytes([]byte("  \n"))
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "rain-world.html")
	jsonPath := filepath.Join(dir, "rain-world.json")
	require.NoError(t, os.WriteFile(htmlPath, []byte(page(assignment(stateJSON))), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte("\n  "+stateJSON+"\n"), 0o644))

	fromPage, err := ExtractFile(htmlPath)
	require.NoError(t, err)
	fromState, err := ExtractFile(jsonPath)
	require.NoError(t, err)
	if diff := cmp.Diff(fromPage, fromState, cmp.AllowUnexported(tree.Tree{})); diff != "" {
		t.Fatalf("page and state file disagree (-page +state):\n%s", diff)
	}

	_, err = ExtractFile(filepath.Join(dir, "missing.html"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
