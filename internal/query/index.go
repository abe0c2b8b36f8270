// Package query groups the React Query records embedded in a product page by kind.
package query

import (
	"encoding/json"

	"github.com/nick-cb/game-reseller-scraper/internal/tree"
)

// Query kinds consumed by the merger.
const (
	KindCatalogOffer      = "getCatalogOffer"
	KindProductHomeConfig = "getProductHomeConfig"
	KindStoreConfig       = "getStoreConfig"
	KindPlatform          = "egs-platform"
	KindProductResult     = "getProductResult"
	KindMappingByPageSlug = "getMappingByPageSlug"
)

// Record is one cached query: its composite key and its state document.
type Record struct {
	Key   []string
	State tree.Tree
}

// FromTree reads a {"queryKey": [...], "state": {...}} entry. Non-string key
// elements are kept as their JSON text.
func FromTree(entry tree.Tree) (Record, bool) {
	if entry.Kind() != tree.Mapping {
		return Record{}, false
	}
	rawKey, ok := entry.Get("queryKey").Items()
	if !ok {
		return Record{}, false
	}
	key := make([]string, 0, len(rawKey))
	for _, part := range rawKey {
		if s, ok := part.String(); ok {
			key = append(key, s)
			continue
		}
		b, err := json.Marshal(part)
		if err != nil {
			return Record{}, false
		}
		key = append(key, string(b))
	}
	return Record{Key: key, State: entry.Get("state")}, true
}

// Kind returns the first key element, or "" for an empty key.
func (r Record) Kind() string {
	if len(r.Key) == 0 {
		return ""
	}
	return r.Key[0]
}

// Data resolves path under the record's state.data node.
func (r Record) Data(path string) tree.Tree {
	data := r.State.Get("data")
	if path == "" {
		return data
	}
	return tree.Resolve(data, path)
}

// Bundle is the ordered list of records found on one page.
type Bundle []Record

// Index answers first/all lookups by kind. It is immutable once built.
type Index struct {
	records []Record
	byKind  map[string][]int
}

// NewIndex builds an index preserving bundle order.
func NewIndex(bundle Bundle) *Index {
	idx := &Index{
		records: make([]Record, len(bundle)),
		byKind:  make(map[string][]int),
	}
	copy(idx.records, bundle)
	for i, rec := range idx.records {
		kind := rec.Kind()
		idx.byKind[kind] = append(idx.byKind[kind], i)
	}
	return idx
}

// First returns the earliest record of kind.
func (idx *Index) First(kind string) (Record, bool) {
	if idx == nil {
		return Record{}, false
	}
	positions := idx.byKind[kind]
	if len(positions) == 0 {
		return Record{}, false
	}
	return idx.records[positions[0]], true
}

// All returns every record of kind in bundle order.
func (idx *Index) All(kind string) []Record {
	if idx == nil {
		return nil
	}
	positions := idx.byKind[kind]
	out := make([]Record, 0, len(positions))
	for _, pos := range positions {
		out = append(out, idx.records[pos])
	}
	return out
}

// Kinds lists the distinct kinds in order of first appearance.
func (idx *Index) Kinds() []string {
	if idx == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(idx.byKind))
	out := make([]string, 0, len(idx.byKind))
	for _, rec := range idx.records {
		kind := rec.Kind()
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out
}

// Len reports the number of records in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.records)
}
