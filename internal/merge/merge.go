// Package merge assembles one canonical GameRecord from the query records of a page.
package merge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nick-cb/game-reseller-scraper/internal/query"
	"github.com/nick-cb/game-reseller-scraper/internal/tree"
	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// ErrMissingQueryKind reports that a mandatory query kind is absent from a page.
var ErrMissingQueryKind = errors.New("missing query kind")

// MissingKindError names the kind that was not found.
type MissingKindError struct {
	Kind string
}

func (e *MissingKindError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingQueryKind, e.Kind)
}

// Is lets errors.Is match ErrMissingQueryKind.
func (e *MissingKindError) Is(target error) bool {
	return target == ErrMissingQueryKind
}

const (
	catalogOfferPath  = "Catalog.catalogOffer"
	sandboxConfigPath = "Product.sandbox.configuration"
	productResultPath = "RatingsPolls.getProductResult"
	pageSlugPath      = "StorePageMapping.mapping.pageSlug"

	// homeConfigEntry is the configuration element that carries the product home page content.
	homeConfigEntry = 1
)

// Merger builds records. It holds no per-page state and is safe for concurrent use.
type Merger struct {
	logger *slog.Logger
}

// NewMerger returns a Merger that reports missing sources on logger.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Merger{logger: logger}
}

// Merge assembles the record for pageSlug. It fails only when the primary
// offer is missing; every other gap leaves the matching fields nil.
func (m *Merger) Merge(idx *query.Index, pageSlug string) (*types.GameRecord, error) {
	logger := m.logger.With("slug", pageSlug)

	offer, ok := m.catalogOffer(idx, logger)
	if !ok {
		return nil, &MissingKindError{Kind: query.KindCatalogOffer}
	}

	title, titled := offer.Get("title").String()
	record := &types.GameRecord{
		Title:                title,
		RefID:                text(offer.Get("id")),
		RefNamespace:         text(offer.Get("namespace")),
		DeveloperDisplayName: offer.Get("developerDisplayName").StringPtr(),
		PublisherDisplayName: offer.Get("publisherDisplayName").StringPtr(),
		ShortDescription:     offer.Get("description").StringPtr(),
		ItemType:             offer.Get("offerType").StringPtr(),
		ReleaseDate:          offer.Get("releaseDate").StringPtr(),
		Tags:                 tags(offer.Get("tags")),
		Price:                price(tree.Resolve(offer, "price.totalPrice")),
		Mappings:             mappings(tree.Resolve(offer, "catalogNs.mappings")),
		Images:               []types.Image{},
		URL:                  pageSlug,
	}

	home := m.homeConfig(idx, logger)
	record.LongDescription = home.Get("longDescription").StringPtr()
	if record.LongDescription == nil {
		record.LongDescription = offer.Get("longDescription").StringPtr()
	}

	store := tree.Null
	if titled {
		store = m.storeConfig(idx, title, logger)
	} else {
		logger.Info("offer has no title, skipping store configuration", "kind", query.KindStoreConfig)
	}

	record.Images = append(record.Images, images(offer.Get("keyImages"))...)
	record.Images = append(record.Images, images(home.Get("keyImages"))...)
	record.Images = append(record.Images, images(store.Get("keyImages"))...)

	if audio, ok := store.Get("supportedAudio").Strings(); ok {
		record.SupportedAudio = audio
	}
	if subtitles, ok := store.Get("supportedText").Strings(); ok {
		record.SupportedText = subtitles
	}
	record.TechnicalRequirements = requirements(store.Get("technicalRequirements"))
	record.Theme = object(store.Get("theme"))

	m.applyPlatform(idx, record, logger)
	m.applyProductResult(idx, record, logger)

	if rec, ok := idx.First(query.KindMappingByPageSlug); ok {
		record.RefSlug = rec.Data(pageSlugPath).StringPtr()
	} else {
		logger.Warn("query kind not found", "kind", query.KindMappingByPageSlug)
	}

	return record, nil
}

func (m *Merger) catalogOffer(idx *query.Index, logger *slog.Logger) (tree.Tree, bool) {
	rec, ok := idx.First(query.KindCatalogOffer)
	if !ok {
		logger.Warn("query kind not found", "kind", query.KindCatalogOffer)
		return tree.Null, false
	}
	offer := rec.Data(catalogOfferPath)
	if offer.Kind() != tree.Mapping {
		logger.Warn("catalog offer missing from query state", "kind", query.KindCatalogOffer)
		return tree.Null, false
	}
	return offer, true
}

// homeConfig returns the configs node of the product home configuration, or Absent.
func (m *Merger) homeConfig(idx *query.Index, logger *slog.Logger) tree.Tree {
	rec, ok := idx.First(query.KindProductHomeConfig)
	if !ok {
		logger.Warn("query kind not found", "kind", query.KindProductHomeConfig)
		return tree.Null
	}
	entry := rec.Data(sandboxConfigPath).Index(homeConfigEntry)
	if entry.IsAbsent() {
		logger.Warn("home configuration entry not found", "kind", query.KindProductHomeConfig)
		return tree.Null
	}
	return entry.Get("configs")
}

// storeConfig returns the configs node of the store configuration whose
// display name equals title, or Absent.
func (m *Merger) storeConfig(idx *query.Index, title string, logger *slog.Logger) tree.Tree {
	rec, ok := idx.First(query.KindStoreConfig)
	if !ok {
		logger.Warn("query kind not found", "kind", query.KindStoreConfig)
		return tree.Null
	}
	configs := FindByTitle(rec.Data(sandboxConfigPath), title)
	if configs.IsAbsent() {
		logger.Info("no store configuration matches title", "kind", query.KindStoreConfig, "title", title)
	}
	return configs
}

// FindByTitle returns the configs node of the first configuration entry whose
// configs.productDisplayName equals title exactly.
func FindByTitle(configuration tree.Tree, title string) tree.Tree {
	entries, _ := configuration.Items()
	for _, entry := range entries {
		configs := entry.Get("configs")
		name, ok := configs.Get("productDisplayName").String()
		if ok && name == title {
			return configs
		}
	}
	return tree.Null
}

// applyPlatform scans every platform record in bundle order. Scalar fields keep
// the first value found; reviews come whole from the first record that has any.
func (m *Merger) applyPlatform(idx *query.Index, record *types.GameRecord, logger *slog.Logger) {
	platforms := idx.All(query.KindPlatform)
	if len(platforms) == 0 {
		logger.Warn("query kind not found", "kind", query.KindPlatform)
		return
	}
	for _, rec := range platforms {
		if record.Branding == nil {
			record.Branding = object(rec.Data("branding"))
		}
		critic := rec.Data("criticReviews")
		if critic.Kind() != tree.Mapping {
			continue
		}
		if record.CriticAvg == nil {
			record.CriticAvg = critic.Get("criticAverage").FloatPtr()
		}
		if record.CriticRating == nil {
			record.CriticRating = critic.Get("criticRating").StringPtr()
		}
		if record.CriticRecommendPct == nil {
			record.CriticRecommendPct = critic.Get("recommendPercentage").FloatPtr()
		}
		if record.CriticReviews == nil {
			record.CriticReviews = reviews(tree.Resolve(critic, "reviews.data"))
		}
	}
}

func (m *Merger) applyProductResult(idx *query.Index, record *types.GameRecord, logger *slog.Logger) {
	rec, ok := idx.First(query.KindProductResult)
	if !ok {
		logger.Warn("query kind not found", "kind", query.KindProductResult)
		return
	}
	result := rec.Data(productResultPath)
	entries := polls(result.Get("pollResult"))
	if len(entries) == 0 {
		logger.Warn("poll result not found", "kind", query.KindProductResult)
		return
	}
	record.Polls = entries
	record.AvgRating = result.Get("averageRating").FloatPtr()
}

func text(t tree.Tree) string {
	s, _ := t.String()
	return s
}

func object(t tree.Tree) map[string]any {
	if t.Kind() != tree.Mapping {
		return nil
	}
	out, _ := t.Value().(map[string]any)
	return out
}

func tags(t tree.Tree) []types.Tag {
	items, _ := t.Items()
	out := make([]types.Tag, 0, len(items))
	for _, item := range items {
		if item.Kind() != tree.Mapping {
			continue
		}
		out = append(out, types.Tag{
			RefID:     text(item.Get("id")),
			Name:      item.Get("name").StringPtr(),
			GroupName: item.Get("groupName").StringPtr(),
		})
	}
	return out
}

func price(total tree.Tree) *types.Price {
	if total.Kind() != tree.Mapping {
		return nil
	}
	return &types.Price{
		DiscountPrice: total.Get("discountPrice").FloatPtr(),
		OriginPrice:   total.Get("originalPrice").FloatPtr(),
		Discount:      total.Get("discount").FloatPtr(),
	}
}

func images(t tree.Tree) []types.Image {
	items, _ := t.Items()
	out := make([]types.Image, 0, len(items))
	for _, item := range items {
		if item.Kind() != tree.Mapping {
			continue
		}
		out = append(out, types.Image{
			Type: text(item.Get("type")),
			URL:  text(item.Get("url")),
			Alt:  text(item.Get("alt")),
		})
	}
	return out
}

func mappings(t tree.Tree) []types.Mapping {
	items, ok := t.Items()
	if !ok {
		return nil
	}
	out := make([]types.Mapping, 0, len(items))
	for _, item := range items {
		if item.Kind() != tree.Mapping {
			continue
		}
		out = append(out, types.Mapping{
			PageSlug:  text(item.Get("pageSlug")),
			PageType:  text(item.Get("pageType")),
			OfferID:   text(item.Get("offerId")),
			Namespace: text(item.Get("namespace")),
		})
	}
	return out
}

func requirements(t tree.Tree) map[string][]types.SystemRequirement {
	systems, ok := t.Fields()
	if !ok {
		return nil
	}
	out := make(map[string][]types.SystemRequirement, len(systems))
	for system, node := range systems {
		details, ok := node.Items()
		if !ok {
			continue
		}
		rows := make([]types.SystemRequirement, 0, len(details))
		for _, d := range details {
			rows = append(rows, types.SystemRequirement{
				Title:       text(d.Get("title")),
				Minimum:     text(d.Get("minimum")),
				Recommended: text(d.Get("recommended")),
			})
		}
		out[system] = rows
	}
	return out
}

func reviews(t tree.Tree) []types.Review {
	items, ok := t.Items()
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]types.Review, 0, len(items))
	for _, item := range items {
		score := item.Get("score")
		out = append(out, types.Review{
			Author: item.Get("author").StringPtr(),
			Body:   item.Get("body").StringPtr(),
			Outlet: item.Get("outlet").StringPtr(),
			URL:    item.Get("url").StringPtr(),
			Score: types.ReviewScore{
				Type:        text(score.Get("__typename")),
				EarnedScore: score.Get("earnedScore").FloatPtr(),
				TotalScore:  score.Get("totalScore").FloatPtr(),
			},
		})
	}
	return out
}

func polls(t tree.Tree) []types.Poll {
	items, ok := t.Items()
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]types.Poll, 0, len(items))
	for _, item := range items {
		loc := item.Get("localizations")
		out = append(out, types.Poll{
			RefID:               text(item.Get("id")),
			RefTagID:            text(item.Get("tagId")),
			RefPollDefinitionID: text(item.Get("pollDefinitionId")),
			Text:                loc.Get("text").StringPtr(),
			Emoji:               loc.Get("emoji").StringPtr(),
			ResultEmoji:         loc.Get("resultEmoji").StringPtr(),
			ResultTitle:         loc.Get("resultTitle").StringPtr(),
			ResultText:          loc.Get("resultText").StringPtr(),
			Total:               item.Get("total").FloatPtr(),
		})
	}
	return out
}
