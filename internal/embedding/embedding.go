// Package embedding turns document text into unit-length dense vectors. The
// same Generator is used when indexing and when querying so both sides live
// in the same vector space.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Dimension is the vector size of the default sentence model
// (all-MiniLM-L6-v2).
const Dimension = 384

var (
	// ErrUnavailable is returned when no encoder is configured.
	ErrUnavailable = errors.New("embedding model unavailable")
	// ErrEmptyInput is returned when the text is blank after normalization.
	ErrEmptyInput = errors.New("empty text after normalization")
	// ErrDimension is returned when the encoder yields the wrong vector size.
	ErrDimension = errors.New("embedding dimension mismatch")
	// ErrZeroVector is returned when the encoder yields an all-zero vector.
	ErrZeroVector = errors.New("zero vector cannot be normalized")
)

// Encoder maps texts to raw (not necessarily normalized) vectors, one per
// input, in order. llm.Provider satisfies it.
type Encoder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalizer prepares text before encoding.
type Normalizer interface {
	Normalize(text string) string
}

// Generator produces L2-normalized embeddings.
type Generator struct {
	encoder    Encoder
	normalizer Normalizer
	model      string
	dim        int
}

// New creates a Generator. A nil encoder makes every call fail with
// ErrUnavailable; a nil normalizer passes text through trimmed.
func New(encoder Encoder, normalizer Normalizer, model string, dim int) *Generator {
	if dim <= 0 {
		dim = Dimension
	}
	return &Generator{encoder: encoder, normalizer: normalizer, model: model, dim: dim}
}

// Model returns the encoder's model name, or "" when unavailable.
func (g *Generator) Model() string {
	if g == nil || g.encoder == nil {
		return ""
	}
	return g.model
}

// Dim returns the expected vector size.
func (g *Generator) Dim() int { return g.dim }

// Available reports whether an encoder is configured.
func (g *Generator) Available() bool { return g != nil && g.encoder != nil }

// Embed normalizes text, encodes it and scales the result to unit length.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if !g.Available() {
		return nil, ErrUnavailable
	}

	if g.normalizer != nil {
		text = g.normalizer.Normalize(text)
	} else {
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return nil, ErrEmptyInput
	}

	vecs, err := g.encoder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("encoding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("encoding text: expected 1 vector, got %d", len(vecs))
	}
	if len(vecs[0]) != g.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vecs[0]), g.dim)
	}
	return Normalize(vecs[0])
}

// Normalize returns a copy of v scaled to unit L2 norm.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
