// Package vector holds the append-only dense vector index: exhaustive
// inner-product search over unit vectors plus a slot-keyed metadata table.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/docintel/internal/fields"
)

// DefaultDimension matches the sentence embedding model.
const DefaultDimension = 384

// ErrDimension is returned when a vector's length differs from the index's.
var ErrDimension = errors.New("vector dimension mismatch")

// Entry is the metadata recorded for one slot.
type Entry struct {
	DocumentID  string        `json:"document_id"`
	EmbeddingID int           `json:"embedding_id"`
	Metadata    fields.Fields `json:"metadata"`
	AddedAt     time.Time     `json:"added_at"`
}

// Hit is a search match.
type Hit struct {
	Slot  int
	Score float32
}

// Index is a flat inner-product index. Slots are assigned in insertion order
// and never reused; the index only grows.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors []float32 // len == count*dim, row-major
	entries map[int]Entry
	now     func() time.Time

	saveMu sync.Mutex // serializes Save; guards saved
	saved  int        // slots known to be on disk
}

// NewIndex returns an empty index of the given dimension.
func NewIndex(dim int) *Index {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Index{
		dim:     dim,
		entries: make(map[int]Entry),
		now:     time.Now,
	}
}

// Add appends vec and its metadata and returns the new slot.
func (ix *Index) Add(vec []float32, documentID string, meta fields.Fields) (int, error) {
	if len(vec) != ix.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot := len(ix.vectors) / ix.dim
	ix.vectors = append(ix.vectors, vec...)
	ix.entries[slot] = Entry{
		DocumentID:  documentID,
		EmbeddingID: slot,
		Metadata:    meta,
		AddedAt:     ix.now().UTC(),
	}
	return slot, nil
}

// Search returns up to k slots ordered by descending inner product with
// query. Equal scores are ordered by lower slot.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), ix.dim)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.vectors) / ix.dim
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	hits := make([]Hit, n)
	for slot := 0; slot < n; slot++ {
		row := ix.vectors[slot*ix.dim : (slot+1)*ix.dim]
		var score float32
		for i, q := range query {
			score += q * row[i]
		}
		hits[slot] = Hit{Slot: slot, Score: score}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k], nil
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors) / ix.dim
}

// MetadataCount returns the number of side-table entries.
func (ix *Index) MetadataCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Entry returns the metadata for slot.
func (ix *Index) Entry(slot int) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[slot]
	return e, ok
}

// Vector returns a copy of the vector stored at slot.
func (ix *Index) Vector(slot int) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if slot < 0 || (slot+1)*ix.dim > len(ix.vectors) {
		return nil, false
	}
	out := make([]float32, ix.dim)
	copy(out, ix.vectors[slot*ix.dim:])
	return out, true
}

// LatestSlot returns the highest slot recorded for documentID.
func (ix *Index) LatestSlot(documentID string) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	latest := -1
	for slot, e := range ix.entries {
		if e.DocumentID == documentID && slot > latest {
			latest = slot
		}
	}
	return latest, latest >= 0
}
