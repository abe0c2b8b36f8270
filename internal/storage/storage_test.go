package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func sampleRecord() types.GameRecord {
	return types.GameRecord{
		Title:        "Rain World",
		RefID:        "1efa9feb",
		RefNamespace: "c8b495f1",
		RefSlug:      ptr("rain-world"),
		ReleaseDate:  ptr("2023-01-25T06:00:00.000Z"),
		Price:        &types.Price{OriginPrice: ptr(2499.0)},
		Tags:         []types.Tag{{RefID: "1216", Name: ptr("Action")}},
		Images: []types.Image{
			{Type: "OfferImageWide", URL: "https://cdn/a.jpg"},
			{Type: "OfferImageTall", URL: "https://cdn/b.jpg"},
		},
		SupportedAudio: []string{"English"},
		SupportedText:  []string{"English", "French"},
		TechnicalRequirements: map[string][]types.SystemRequirement{
			"Windows": {{Title: "OS", Minimum: "7", Recommended: "10"}, {Title: "RAM", Minimum: "4GB", Recommended: "8GB"}},
			"macOS":   {},
		},
		CriticAvg: ptr(7.5),
		CriticReviews: []types.Review{
			{Author: ptr("A"), Score: types.ReviewScore{Type: "CriticReviewNumericScore", EarnedScore: ptr(8.0), TotalScore: ptr(10.0)}},
		},
		Polls: []types.Poll{{RefID: "p1", RefTagID: "21", Total: ptr(300.0)}},
		URL:   "rain-world-4c860c",
	}
}

func openSQLite(t *testing.T) *SQLWriter {
	t.Helper()
	w, err := NewSQLWriter(config.SQLConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "games.db"), AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func count(t *testing.T, w *SQLWriter, table string) int {
	t.Helper()
	var n int
	require.NoError(t, w.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLWriterSavesRecordAndChildren(t *testing.T) {
	w := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, w.SaveRecord(ctx, sampleRecord()))

	assert.Equal(t, 1, count(t, w, "items"))
	assert.Equal(t, 2, count(t, w, "images"))
	assert.Equal(t, 1, count(t, w, "systems"), "systems without details are skipped")
	assert.Equal(t, 2, count(t, w, "system_details"))
	assert.Equal(t, 1, count(t, w, "reviews"))
	assert.Equal(t, 1, count(t, w, "polls"))
	assert.Equal(t, 1, count(t, w, "tags"))

	var (
		title, audio, text, reviewType string
		salePrice                      int64
		release                        *int64
		refSlug                        *string
	)
	require.NoError(t, w.db.QueryRow(
		`SELECT title, supported_audio, supported_text, sale_price, release_date, ref_slug FROM items`,
	).Scan(&title, &audio, &text, &salePrice, &release, &refSlug))
	assert.Equal(t, "Rain World", title)
	assert.Equal(t, "English", audio)
	assert.Equal(t, "English,French", text)
	assert.Equal(t, int64(2499), salePrice)
	require.NotNil(t, release)
	assert.Equal(t, int64(1674626400000), *release)
	assert.Equal(t, "rain-world", *refSlug)

	require.NoError(t, w.db.QueryRow(`SELECT type FROM reviews`).Scan(&reviewType))
	assert.Equal(t, "numeric", reviewType)
}

func TestSQLWriterReplacesExistingRecord(t *testing.T) {
	w := openSQLite(t)
	ctx := context.Background()
	rec := sampleRecord()
	require.NoError(t, w.SaveRecord(ctx, rec))

	rec.Images = rec.Images[:1]
	rec.CriticAvg = nil
	require.NoError(t, w.SaveRecord(ctx, rec))

	assert.Equal(t, 1, count(t, w, "items"))
	assert.Equal(t, 1, count(t, w, "images"))
	assert.Equal(t, 2, count(t, w, "system_details"))

	var avg *float64
	require.NoError(t, w.db.QueryRow(`SELECT critic_avg FROM items`).Scan(&avg))
	assert.Nil(t, avg)
}

func TestSQLWriterMinimalRecord(t *testing.T) {
	w := openSQLite(t)
	require.NoError(t, w.SaveRecord(context.Background(), types.GameRecord{Title: "Rain World", URL: "rain-world-4c860c", Images: []types.Image{}}))
	assert.Equal(t, 1, count(t, w, "items"))
	assert.Equal(t, 0, count(t, w, "images"))
}

func TestNewSQLWriterRejectsMissingConfig(t *testing.T) {
	_, err := NewSQLWriter(config.SQLConfig{})
	assert.Error(t, err)
	_, err = NewSQLWriter(config.SQLConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLWriter{driver: driverPostgres}
	assert.Equal(t, "SELECT id FROM items WHERE url = $1 AND ref_id = $2", pg.rebind("SELECT id FROM items WHERE url = ? AND ref_id = ?"))
	lite := &SQLWriter{driver: driverSQLite}
	assert.Equal(t, "WHERE url = ?", lite.rebind("WHERE url = ?"))
}

func TestRoundInt(t *testing.T) {
	assert.Nil(t, roundInt(nil))
	assert.Equal(t, int64(2499), *roundInt(ptr(2499.0)))
	assert.Equal(t, int64(2000), *roundInt(ptr(1999.5)))
	assert.Equal(t, int64(20), *roundInt(ptr(19.99)))
}

func TestSQLWriterRoundsFractionalNumbers(t *testing.T) {
	w := openSQLite(t)
	ctx := context.Background()
	rec := sampleRecord()
	rec.Price = &types.Price{OriginPrice: ptr(24.99), DiscountPrice: ptr(19.99)}
	rec.Polls = []types.Poll{{RefID: "p1", Total: ptr(12.6)}}
	require.NoError(t, w.SaveRecord(ctx, rec))

	var salePrice, total int64
	require.NoError(t, w.db.QueryRow(`SELECT sale_price FROM items`).Scan(&salePrice))
	require.NoError(t, w.db.QueryRow(`SELECT total FROM polls`).Scan(&total))
	assert.Equal(t, int64(25), salePrice)
	assert.Equal(t, int64(13), total)
}

func TestReleaseMillis(t *testing.T) {
	assert.Nil(t, ReleaseMillis(nil))
	assert.Nil(t, ReleaseMillis(ptr("soon")))
	got := ReleaseMillis(ptr("2023-01-25T06:00:00.000Z"))
	require.NotNil(t, got)
	assert.Equal(t, int64(1674626400000), *got)
}

func TestReviewType(t *testing.T) {
	assert.Equal(t, "star", ReviewType("CriticReviewStarScore"))
	assert.Equal(t, "numeric", ReviewType("CriticReviewNumericScore"))
	assert.Equal(t, "numeric", ReviewType(""))
}

func TestFileRecordStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRecordStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.SaveRecord(ctx, rec))

	data, err := os.ReadFile(store.Path("rain-world"))
	require.NoError(t, err)
	var decoded types.GameRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Rain World", decoded.Title)
	assert.Equal(t, "rain-world-4c860c", decoded.URL)

	rec.Title = "Rain World Remastered"
	require.NoError(t, store.SaveRecord(ctx, rec))
	data, err = os.ReadFile(store.Path("rain-world"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Rain World Remastered")

	rec.RefSlug = nil
	rec.URL = "other"
	require.NoError(t, store.SaveRecord(ctx, rec))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "records without ref_slug are not written")
}

type failingStore struct{ err error }

func (f failingStore) SaveRecord(context.Context, types.GameRecord) error { return f.err }

type memoryStore struct{ saved []types.GameRecord }

func (m *memoryStore) SaveRecord(_ context.Context, r types.GameRecord) error {
	m.saved = append(m.saved, r)
	return nil
}

func TestPipelineFansOutAndJoinsErrors(t *testing.T) {
	assert.Nil(t, NewPipeline())
	assert.Nil(t, NewPipeline(nil))
	var nilPipeline *Pipeline
	assert.NoError(t, nilPipeline.Persist(context.Background(), types.CrawlResult{}))

	boom := errors.New("disk full")
	mem := &memoryStore{}
	p := NewPipeline(failingStore{err: boom}, mem)

	rec := sampleRecord()
	err := p.Persist(context.Background(), types.CrawlResult{Record: &rec})
	assert.ErrorIs(t, err, boom)
	require.Len(t, mem.saved, 1, "later stores still run")

	err = p.Persist(context.Background(), types.CrawlResult{})
	assert.ErrorIs(t, err, ErrNoRecord)
}
