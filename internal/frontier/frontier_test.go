package frontier

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

func related(slugs ...string) *types.GameRecord {
	rec := &types.GameRecord{}
	for _, s := range slugs {
		rec.Mappings = append(rec.Mappings, types.Mapping{PageSlug: s})
	}
	return rec
}

func TestSeedIsVisitedAndPending(t *testing.T) {
	f := New("rain-world-4c860c")
	assert.True(t, f.Visited("rain-world-4c860c"))
	assert.Equal(t, 1, f.Pending())
	assert.Equal(t, []string{"rain-world-4c860c"}, f.NextBatch())
	assert.Equal(t, 0, f.Pending())
	assert.Empty(t, f.NextBatch())
	assert.True(t, f.Visited("rain-world-4c860c"))
}

func TestOfferRejectsRepeatsAndEmpty(t *testing.T) {
	f := New()
	assert.True(t, f.Offer("a"))
	assert.False(t, f.Offer("a"))
	assert.False(t, f.Offer(""))
	f.NextBatch()
	assert.False(t, f.Offer("a"), "drained slugs stay visited")
	assert.Equal(t, 1, f.Len())
}

func TestExpandSkipsEmptyAndSeen(t *testing.T) {
	f := New("seed")
	accepted := f.Expand(related("dlc-1", "", "seed", "dlc-2", "dlc-1"))
	assert.Equal(t, []string{"dlc-1", "dlc-2"}, accepted)
	assert.Equal(t, []string{"seed", "dlc-1", "dlc-2"}, f.NextBatch())

	assert.Nil(t, f.Expand(nil))
	assert.Nil(t, f.Expand(&types.GameRecord{}))
}

func TestWalkTerminatesOnCycle(t *testing.T) {
	graph := map[string][]string{
		"rain-world-4c860c": {"rain-world-dlc"},
		"rain-world-dlc":    {"rain-world-4c860c", "rain-world-ost"},
		"rain-world-ost":    {"rain-world-dlc", "rain-world-4c860c"},
	}

	f := New("rain-world-4c860c")
	fetched := map[string]int{}
	rounds := 0
	for batch := f.NextBatch(); len(batch) > 0; batch = f.NextBatch() {
		rounds++
		require.Less(t, rounds, 10)
		for _, slug := range batch {
			fetched[slug]++
			f.Expand(related(graph[slug]...))
		}
	}

	assert.Equal(t, map[string]int{"rain-world-4c860c": 1, "rain-world-dlc": 1, "rain-world-ost": 1}, fetched)
	assert.Equal(t, 3, rounds)
}

func TestLimitCapsAcceptedSlugs(t *testing.T) {
	f := NewWithLimit(2, "a")
	assert.True(t, f.Offer("b"))
	assert.False(t, f.Offer("c"))
	assert.False(t, f.Visited("c"))
	assert.Equal(t, 2, f.Len())
}

func TestConcurrentOffersAcceptOnce(t *testing.T) {
	f := New()
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if f.Offer(fmt.Sprintf("slug-%d", i)) {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), accepted.Load())
	assert.Len(t, f.NextBatch(), 100)
}
