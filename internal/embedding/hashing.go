package embedding

import (
	"context"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashingModel is the model name reported for the local encoder.
const HashingModel = "feature-hashing-uni-bigram"

// Hashing is a deterministic local encoder based on the hashing trick: each
// token unigram and adjacent bigram is hashed into one of dim buckets with a
// sign taken from the hash. It needs no model server, so it backs offline
// runs and tests. Similarity reflects shared vocabulary, not meaning.
type Hashing struct {
	dim int
}

// NewHashing creates a hashing encoder producing dim-sized vectors.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = Dimension
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Name() string { return HashingModel }

// Embed encodes each text. A text with no tokens yields a zero vector.
func (h *Hashing) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.encode(text)
	}
	return out, nil
}

func (h *Hashing) encode(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec
}

func (h *Hashing) add(vec []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}
