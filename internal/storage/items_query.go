package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// ItemListParams controls pagination and filtering.
type ItemListParams struct {
	Page     int
	PageSize int
	Search   string
}

// ItemSummary represents a stored item in list view.
type ItemSummary struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	RefSlug     string   `json:"ref_slug,omitempty"`
	ItemType    string   `json:"item_type,omitempty"`
	SalePrice   int64    `json:"sale_price"`
	ReleaseDate *int64   `json:"release_date,omitempty"`
	AvgRating   *float64 `json:"avg_rating,omitempty"`
}

// ItemListResult wraps summaries with pagination metadata.
type ItemListResult struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []ItemSummary `json:"items"`
}

// ItemDetail extends a summary with descriptive fields, images and tags.
type ItemDetail struct {
	ItemSummary
	Developer        string        `json:"developer_display_name,omitempty"`
	Publisher        string        `json:"publisher_display_name,omitempty"`
	ShortDescription string        `json:"short_description,omitempty"`
	SupportedText    []string      `json:"supported_text,omitempty"`
	SupportedAudio   []string      `json:"supported_audio,omitempty"`
	Images           []types.Image `json:"images"`
	Tags             []types.Tag   `json:"tags"`
}

const itemSummaryColumns = `id, url, title, ref_slug, item_type, sale_price, release_date, avg_rating`

// ListItems pages through stored items ordered by title. Search matches title,
// url and ref_slug case-insensitively.
func (s *SQLWriter) ListItems(ctx context.Context, params ItemListParams) (ItemListResult, error) {
	if s == nil || s.db == nil {
		return ItemListResult{}, fmt.Errorf("sql store not initialised")
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	result := ItemListResult{Page: page, PageSize: pageSize}

	where := ""
	var args []any
	if search := strings.TrimSpace(params.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		where = ` WHERE LOWER(title) LIKE ? OR LOWER(url) LIKE ? OR LOWER(COALESCE(ref_slug, '')) LIKE ?`
		args = []any{pattern, pattern, pattern}
	}

	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM items`+where), args...).Scan(&result.Total); err != nil {
		return ItemListResult{}, fmt.Errorf("count items: %w", err)
	}

	listQuery := `SELECT ` + itemSummaryColumns + ` FROM items` + where + ` ORDER BY title, url LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(listQuery), append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return ItemListResult{}, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]ItemSummary, 0, pageSize)
	for rows.Next() {
		item, err := scanSummary(rows)
		if err != nil {
			return ItemListResult{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return ItemListResult{}, err
	}
	result.Items = items
	return result, nil
}

// GetItemByURL loads one item by its page slug. A missing item returns sql.ErrNoRows.
func (s *SQLWriter) GetItemByURL(ctx context.Context, url string) (ItemDetail, error) {
	if s == nil || s.db == nil {
		return ItemDetail{}, fmt.Errorf("sql store not initialised")
	}
	query := `SELECT ` + itemSummaryColumns + `,
	       developer_display_name, publisher_display_name, short_description, supported_text, supported_audio
	FROM items WHERE url = ?`

	var (
		summary   ItemSummary
		refSlug   sql.NullString
		itemType  sql.NullString
		release   sql.NullInt64
		avg       sql.NullFloat64
		developer sql.NullString
		publisher sql.NullString
		short     sql.NullString
		text      sql.NullString
		audio     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), url).Scan(
		&summary.ID, &summary.URL, &summary.Title, &refSlug, &itemType, &summary.SalePrice, &release, &avg,
		&developer, &publisher, &short, &text, &audio,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ItemDetail{}, err
		}
		return ItemDetail{}, fmt.Errorf("fetch item: %w", err)
	}
	fillSummary(&summary, refSlug, itemType, release, avg)

	detail := ItemDetail{
		ItemSummary:      summary,
		Developer:        developer.String,
		Publisher:        publisher.String,
		ShortDescription: short.String,
		SupportedText:    splitList(text.String),
		SupportedAudio:   splitList(audio.String),
	}
	if detail.Images, err = s.itemImages(ctx, summary.ID); err != nil {
		return ItemDetail{}, err
	}
	if detail.Tags, err = s.itemTags(ctx, summary.ID); err != nil {
		return ItemDetail{}, err
	}
	return detail, nil
}

func (s *SQLWriter) itemImages(ctx context.Context, itemID int64) ([]types.Image, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT url, image_type, alt FROM images WHERE item_id = ? ORDER BY image_row`), itemID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []types.Image{}
	for rows.Next() {
		var (
			img       types.Image
			imageType sql.NullString
			alt       sql.NullString
		)
		if err := rows.Scan(&img.URL, &imageType, &alt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.Type = imageType.String
		img.Alt = alt.String
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLWriter) itemTags(ctx context.Context, itemID int64) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT ref_id, name, group_name FROM tags WHERE item_id = ? ORDER BY id`), itemID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := []types.Tag{}
	for rows.Next() {
		var (
			tag   types.Tag
			name  sql.NullString
			group sql.NullString
		)
		if err := rows.Scan(&tag.RefID, &name, &group); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		if name.Valid {
			tag.Name = &name.String
		}
		if group.Valid {
			tag.GroupName = &group.String
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func scanSummary(rows *sql.Rows) (ItemSummary, error) {
	var (
		item     ItemSummary
		refSlug  sql.NullString
		itemType sql.NullString
		release  sql.NullInt64
		avg      sql.NullFloat64
	)
	if err := rows.Scan(&item.ID, &item.URL, &item.Title, &refSlug, &itemType, &item.SalePrice, &release, &avg); err != nil {
		return ItemSummary{}, fmt.Errorf("scan item: %w", err)
	}
	fillSummary(&item, refSlug, itemType, release, avg)
	return item, nil
}

func fillSummary(item *ItemSummary, refSlug, itemType sql.NullString, release sql.NullInt64, avg sql.NullFloat64) {
	item.RefSlug = refSlug.String
	item.ItemType = itemType.String
	if release.Valid {
		item.ReleaseDate = &release.Int64
	}
	if avg.Valid {
		item.AvgRating = &avg.Float64
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, v := range parts {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
