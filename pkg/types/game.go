package types

// GameRecord is the canonical product record assembled from one page.
// Pointer and slice fields are nil when the page carried no data for them.
type GameRecord struct {
	Title        string  `json:"title"`
	RefID        string  `json:"ref_id"`
	RefNamespace string  `json:"ref_namespace"`
	RefSlug      *string `json:"ref_slug"`

	DeveloperDisplayName *string `json:"developer_display_name"`
	PublisherDisplayName *string `json:"publisher_display_name"`
	ShortDescription     *string `json:"short_description"`
	LongDescription      *string `json:"long_description"`
	ItemType             *string `json:"item_type"`
	ReleaseDate          *string `json:"release_date"`
	Tags                 []Tag   `json:"tags"`
	Price                *Price  `json:"price"`

	Images []Image `json:"images"`

	SupportedAudio        []string                       `json:"supported_audio"`
	SupportedText         []string                       `json:"supported_text"`
	TechnicalRequirements map[string][]SystemRequirement `json:"technical_requirements"`
	Theme                 map[string]any                 `json:"theme"`

	Branding           map[string]any `json:"branding"`
	AvgRating          *float64       `json:"avg_rating"`
	CriticAvg          *float64       `json:"critic_avg"`
	CriticRating       *string        `json:"critic_rating"`
	CriticRecommendPct *float64       `json:"critic_recommend_pct"`
	CriticReviews      []Review       `json:"critic_reviews"`
	Polls              []Poll         `json:"polls"`

	Mappings []Mapping `json:"mappings"`

	// URL is the slug of the page the record was built from.
	URL string `json:"url"`
	// BaseItem is the slug of the page whose relations led here, if any.
	BaseItem string `json:"base_item,omitempty"`
}

// Tag is a catalog tag.
type Tag struct {
	RefID     string  `json:"ref_id"`
	Name      *string `json:"name"`
	GroupName *string `json:"group_name"`
}

// Price carries the total price of the offer as published, usually in minor currency units.
type Price struct {
	DiscountPrice *float64 `json:"discount_price"`
	OriginPrice   *float64 `json:"origin_price"`
	Discount      *float64 `json:"discount"`
}

// Image describes one key image.
type Image struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Alt  string `json:"alt,omitempty"`
}

// SystemRequirement is one row of a platform's technical requirements.
type SystemRequirement struct {
	Title       string `json:"title"`
	Minimum     string `json:"minimum"`
	Recommended string `json:"recommended"`
}

// ReviewScore is the score attached to a critic review.
type ReviewScore struct {
	Type        string   `json:"type"`
	EarnedScore *float64 `json:"earned_score"`
	TotalScore  *float64 `json:"total_score"`
}

// Review is a critic review.
type Review struct {
	Author *string     `json:"author"`
	Body   *string     `json:"body"`
	Outlet *string     `json:"outlet"`
	Score  ReviewScore `json:"score"`
	URL    *string     `json:"url"`
}

// Poll is one entry of the product's rating poll.
type Poll struct {
	RefID               string   `json:"ref_id"`
	RefTagID            string   `json:"ref_tag_id"`
	RefPollDefinitionID string   `json:"ref_poll_definition_id"`
	Text                *string  `json:"text"`
	Emoji               *string  `json:"emoji"`
	ResultEmoji         *string  `json:"result_emoji"`
	ResultTitle         *string  `json:"result_title"`
	ResultText          *string  `json:"result_text"`
	Total               *float64 `json:"total"`
}

// Mapping links a record to a related page (DLC, edition, bundle member).
type Mapping struct {
	PageSlug  string `json:"page_slug"`
	PageType  string `json:"page_type"`
	OfferID   string `json:"offer_id,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// RelatedSlugs returns the non-empty page slugs of the record's mappings in order.
func (g *GameRecord) RelatedSlugs() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.Mappings))
	for _, m := range g.Mappings {
		if m.PageSlug != "" {
			out = append(out, m.PageSlug)
		}
	}
	return out
}
