package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// SQLWriter stores records in the items table and its child tables.
type SQLWriter struct {
	db          *sql.DB
	driver      string
	autoMigrate bool
}

// NewSQLWriter opens the database named by cfg and applies the schema when auto_migrate is set.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if !cfg.Enabled() {
		return nil, errors.New("sql config missing driver or dsn")
	}
	if cfg.Driver != driverPostgres && cfg.Driver != driverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		if db, err = sql.Open(cfg.Driver, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}

	if cfg.Driver == driverSQLite {
		// One writer at a time; concurrent writers fail with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	writer := &SQLWriter{db: db, driver: cfg.Driver, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return writer, nil
}

// SaveRecord replaces the stored record for the same page slug. The item and
// all child rows are written in one transaction.
func (s *SQLWriter) SaveRecord(ctx context.Context, record types.GameRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.saveRecord(ctx, record)
	if err != nil && s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		err = s.saveRecord(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("save record %q: %w", record.URL, err)
	}
	return nil
}

func (s *SQLWriter) saveRecord(ctx context.Context, record types.GameRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteExisting(ctx, tx, record.URL); err != nil {
		return err
	}
	itemID, err := s.insertItem(ctx, tx, record)
	if err != nil {
		return err
	}
	steps := []func(context.Context, *sql.Tx, int64, types.GameRecord) error{
		s.insertImages,
		s.insertSystems,
		s.insertReviews,
		s.insertPolls,
		s.insertTags,
	}
	for _, step := range steps {
		if err := step(ctx, tx, itemID, record); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLWriter) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	_, err := tx.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *SQLWriter) deleteExisting(ctx context.Context, tx *sql.Tx, pageSlug string) error {
	var id int64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM items WHERE url = ?`), pageSlug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find existing item: %w", err)
	}
	stmts := []string{
		`DELETE FROM system_details WHERE system_id IN (SELECT id FROM systems WHERE item_id = ?)`,
		`DELETE FROM systems WHERE item_id = ?`,
		`DELETE FROM images WHERE item_id = ?`,
		`DELETE FROM reviews WHERE item_id = ?`,
		`DELETE FROM polls WHERE item_id = ?`,
		`DELETE FROM tags WHERE item_id = ?`,
		`DELETE FROM items WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if err := s.exec(ctx, tx, stmt, id); err != nil {
			return fmt.Errorf("delete existing item: %w", err)
		}
	}
	return nil
}

func (s *SQLWriter) insertItem(ctx context.Context, tx *sql.Tx, r types.GameRecord) (int64, error) {
	query := `
        INSERT INTO items (
            url, title, ref_id, ref_namespace, ref_slug, developer_display_name, publisher_display_name,
            short_description, long_description, item_type, critic_avg, critic_rating, critic_recommend_pct,
            supported_text, supported_audio, sale_price, release_date, avg_rating
        ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        RETURNING id
    `
	var salePrice int64
	if r.Price != nil {
		if v := roundInt(r.Price.OriginPrice); v != nil {
			salePrice = *v
		}
	}
	var id int64
	err := tx.QueryRowContext(ctx, s.rebind(query),
		r.URL,
		r.Title,
		r.RefID,
		r.RefNamespace,
		r.RefSlug,
		r.DeveloperDisplayName,
		r.PublisherDisplayName,
		r.ShortDescription,
		r.LongDescription,
		r.ItemType,
		r.CriticAvg,
		r.CriticRating,
		r.CriticRecommendPct,
		strings.Join(r.SupportedText, ","),
		strings.Join(r.SupportedAudio, ","),
		salePrice,
		ReleaseMillis(r.ReleaseDate),
		r.AvgRating,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (s *SQLWriter) insertImages(ctx context.Context, tx *sql.Tx, itemID int64, r types.GameRecord) error {
	for i, img := range r.Images {
		if err := s.exec(ctx, tx,
			`INSERT INTO images (item_id, image_row, url, image_type, alt) VALUES (?,?,?,?,?)`,
			itemID, i, img.URL, img.Type, img.Alt,
		); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
	}
	return nil
}

func (s *SQLWriter) insertSystems(ctx context.Context, tx *sql.Tx, itemID int64, r types.GameRecord) error {
	for _, system := range sortedKeys(r.TechnicalRequirements) {
		details := r.TechnicalRequirements[system]
		if len(details) == 0 {
			continue
		}
		var systemID int64
		err := tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO systems (item_id, os) VALUES (?,?) RETURNING id`),
			itemID, system,
		).Scan(&systemID)
		if err != nil {
			return fmt.Errorf("insert system: %w", err)
		}
		for _, d := range details {
			if err := s.exec(ctx, tx,
				`INSERT INTO system_details (system_id, title, minimum, recommended) VALUES (?,?,?,?)`,
				systemID, d.Title, d.Minimum, d.Recommended,
			); err != nil {
				return fmt.Errorf("insert system detail: %w", err)
			}
		}
	}
	return nil
}

func (s *SQLWriter) insertReviews(ctx context.Context, tx *sql.Tx, itemID int64, r types.GameRecord) error {
	for _, rv := range r.CriticReviews {
		if err := s.exec(ctx, tx,
			`INSERT INTO reviews (item_id, author, body, outlet, url, earned_score, total_score, type) VALUES (?,?,?,?,?,?,?,?)`,
			itemID, rv.Author, rv.Body, rv.Outlet, rv.URL, rv.Score.EarnedScore, rv.Score.TotalScore, ReviewType(rv.Score.Type),
		); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}
	return nil
}

func (s *SQLWriter) insertPolls(ctx context.Context, tx *sql.Tx, itemID int64, r types.GameRecord) error {
	for _, p := range r.Polls {
		if err := s.exec(ctx, tx,
			`INSERT INTO polls (item_id, ref_id, ref_tag_id, ref_poll_definition_id, text, emoji, result_emoji, result_title, result_text, total)
             VALUES (?,?,?,?,?,?,?,?,?,?)`,
			itemID, p.RefID, p.RefTagID, p.RefPollDefinitionID, p.Text, p.Emoji, p.ResultEmoji, p.ResultTitle, p.ResultText, roundInt(p.Total),
		); err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
	}
	return nil
}

func (s *SQLWriter) insertTags(ctx context.Context, tx *sql.Tx, itemID int64, r types.GameRecord) error {
	for _, t := range r.Tags {
		if err := s.exec(ctx, tx,
			`INSERT INTO tags (item_id, ref_id, name, group_name) VALUES (?,?,?,?)`,
			itemID, t.RefID, t.Name, t.GroupName,
		); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

// ReleaseMillis converts an ISO-8601 release date into epoch milliseconds.
// Missing or unparseable dates give nil.
func ReleaseMillis(date *string) *int64 {
	if date == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*date))
	if err != nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// ReviewType maps a score typename onto the stored review type.
func ReviewType(typename string) string {
	if strings.Contains(strings.ToLower(typename), "star") {
		return "star"
	}
	return "numeric"
}

// roundInt converts a decoded number to the nearest integer for BIGINT columns.
func roundInt(v *float64) *int64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	n := int64(math.Round(*v))
	return &n
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLWriter) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	schemaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
		    id %[1]s,
		    url TEXT NOT NULL UNIQUE,
		    title TEXT NOT NULL,
		    ref_id TEXT,
		    ref_namespace TEXT,
		    ref_slug TEXT,
		    developer_display_name TEXT,
		    publisher_display_name TEXT,
		    short_description TEXT,
		    long_description TEXT,
		    item_type TEXT,
		    critic_avg DOUBLE PRECISION,
		    critic_rating TEXT,
		    critic_recommend_pct DOUBLE PRECISION,
		    supported_text TEXT,
		    supported_audio TEXT,
		    sale_price BIGINT NOT NULL DEFAULT 0,
		    release_date BIGINT,
		    avg_rating DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_ref_slug ON items (ref_slug)`,
		`CREATE TABLE IF NOT EXISTS images (
		    id %[1]s,
		    item_id BIGINT NOT NULL,
		    image_row INT NOT NULL,
		    url TEXT NOT NULL,
		    image_type TEXT,
		    alt TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS systems (
		    id %[1]s,
		    item_id BIGINT NOT NULL,
		    os TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_details (
		    id %[1]s,
		    system_id BIGINT NOT NULL,
		    title TEXT,
		    minimum TEXT,
		    recommended TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
		    id %[1]s,
		    item_id BIGINT NOT NULL,
		    author TEXT,
		    body TEXT,
		    outlet TEXT,
		    url TEXT,
		    earned_score DOUBLE PRECISION,
		    total_score DOUBLE PRECISION,
		    type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS polls (
		    id %[1]s,
		    item_id BIGINT NOT NULL,
		    ref_id TEXT,
		    ref_tag_id TEXT,
		    ref_poll_definition_id TEXT,
		    text TEXT,
		    emoji TEXT,
		    result_emoji TEXT,
		    result_title TEXT,
		    result_text TEXT,
		    total BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
		    id %[1]s,
		    item_id BIGINT NOT NULL,
		    ref_id TEXT NOT NULL,
		    name TEXT,
		    group_name TEXT
		)`,
	}
	for _, stmt := range stmts {
		if strings.Contains(stmt, "%[1]s") {
			stmt = fmt.Sprintf(stmt, idColumn)
		}
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if driver != driverPostgres {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()

	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such table") ||
		(strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist"))
}

func sortedKeys(m map[string][]types.SystemRequirement) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
