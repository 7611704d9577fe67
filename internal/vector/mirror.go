package vector

import (
	"context"

	"github.com/efebarandurmaz/docintel/internal/fields"
)

// Point is a vector copied to an external store.
type Point struct {
	Slot       int
	DocumentID string
	Vector     []float32
	Metadata   fields.Fields
}

// Mirror receives a copy of every added vector so other systems can query
// the same embeddings. The local index stays authoritative.
type Mirror interface {
	Upsert(ctx context.Context, points []Point) error
	Close() error
}
