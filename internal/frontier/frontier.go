// Package frontier holds the visited set and pending queue of the related-product walk.
package frontier

import (
	"sync"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// Frontier is safe for concurrent use. A slug is marked visited at the moment
// it is accepted, before it is fetched, so it can never be enqueued twice.
type Frontier struct {
	mu      sync.Mutex
	visited map[string]struct{}
	pending []string
	limit   int
}

// New returns a frontier whose seeds are already visited and pending.
func New(seeds ...string) *Frontier {
	return NewWithLimit(0, seeds...)
}

// NewWithLimit is New with a cap on the total number of accepted slugs.
// A limit of zero or less means unbounded.
func NewWithLimit(limit int, seeds ...string) *Frontier {
	f := &Frontier{
		visited: make(map[string]struct{}),
		limit:   limit,
	}
	for _, seed := range seeds {
		f.Offer(seed)
	}
	return f
}

// Offer accepts slug if it has not been seen and the limit allows it.
func (f *Frontier) Offer(slug string) bool {
	if slug == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[slug]; seen {
		return false
	}
	if f.limit > 0 && len(f.visited) >= f.limit {
		return false
	}
	f.visited[slug] = struct{}{}
	f.pending = append(f.pending, slug)
	return true
}

// Expand offers every related slug of record and returns the accepted ones in order.
func (f *Frontier) Expand(record *types.GameRecord) []string {
	var accepted []string
	for _, slug := range record.RelatedSlugs() {
		if f.Offer(slug) {
			accepted = append(accepted, slug)
		}
	}
	return accepted
}

// NextBatch removes and returns everything pending.
func (f *Frontier) NextBatch() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := f.pending
	f.pending = nil
	return batch
}

// Visited reports whether slug has been accepted.
func (f *Frontier) Visited(slug string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[slug]
	return ok
}

// Len is the number of accepted slugs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Pending is the number of slugs waiting for the next batch.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
