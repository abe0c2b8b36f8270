package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// ErrNoRecord reports a crawl result that carries no merged record.
var ErrNoRecord = errors.New("crawl result has no record")

// RecordStore persists merged game records.
type RecordStore interface {
	SaveRecord(ctx context.Context, record types.GameRecord) error
}

// Pipeline fans a record out to every configured store.
type Pipeline struct {
	stores []RecordStore
}

// NewPipeline constructs a storage pipeline. It returns nil when no store is given.
func NewPipeline(stores ...RecordStore) *Pipeline {
	kept := make([]RecordStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &Pipeline{stores: kept}
}

// Persist saves the result's record in every store. A failing store does not
// stop the others; all failures are joined.
func (p *Pipeline) Persist(ctx context.Context, result types.CrawlResult) error {
	if p == nil {
		return nil
	}
	if result.Record == nil {
		return ErrNoRecord
	}
	var errs []error
	for _, s := range p.stores {
		if err := s.SaveRecord(ctx, *result.Record); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
