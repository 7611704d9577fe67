// Package search answers free-text and similar-document queries against the
// vector index.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/vector"
)

// Defaults for top_k when the caller passes a non-positive value.
const (
	DefaultTopK        = 10
	DefaultSimilarTopK = 5
)

// Relevance explanations.
const (
	ReasonKeywordsPrefix = "Coincide con las palabras clave: "
	ReasonSemantic       = "Contenido relacionado encontrado por búsqueda semántica"
	ReasonSimilar        = "Documento similar por contenido"
)

// Result is one ranked match.
type Result struct {
	DocumentID      string        `json:"document_id"`
	Metadata        fields.Fields `json:"metadata"`
	SimilarityScore float32       `json:"similarity_score"`
	Reason          string        `json:"reason"`
}

// Embedder produces query vectors with the same normalization as ingestion.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the read side of the vector index.
type Index interface {
	Search(query []float32, k int) ([]vector.Hit, error)
	Entry(slot int) (vector.Entry, bool)
	Vector(slot int) ([]float32, bool)
	LatestSlot(documentID string) (int, bool)
	Len() int
}

// Service runs queries. Failures degrade to empty results.
type Service struct {
	embedder Embedder
	index    Index
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger
}

// New creates a Service. metrics may be nil.
func New(embedder Embedder, index Index, metrics *observability.PipelineMetrics) *Service {
	if metrics == nil {
		metrics = observability.Metrics()
	}
	return &Service{embedder: embedder, index: index, metrics: metrics, logger: slog.Default()}
}

// Search embeds query and returns up to topK annotated matches.
func (s *Service) Search(ctx context.Context, query string, topK int) []Result {
	if topK <= 0 {
		topK = DefaultTopK
	}
	start := time.Now()
	ctx, span := observability.StartSearchSpan(ctx, observability.SpanSearch, topK)
	defer span.End()

	results := s.search(ctx, query, topK)
	observability.RecordSearchResult(span, len(results))
	s.metrics.RecordSearch("query", time.Since(start), len(results))
	return results
}

func (s *Service) search(ctx context.Context, query string, topK int) []Result {
	results := []Result{}
	if strings.TrimSpace(query) == "" {
		return results
	}
	if s.index.Len() == 0 {
		s.logger.Info("Search on empty index", "query", query)
		return results
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Error embedding query", "query", query, "error", err)
		return results
	}

	hits, err := s.index.Search(vec, topK)
	if err != nil {
		s.logger.Error("Error searching index", "error", err)
		return results
	}

	words := strings.Fields(strings.ToLower(query))
	for _, h := range hits {
		e, ok := s.index.Entry(h.Slot)
		if !ok {
			continue
		}
		results = append(results, Result{
			DocumentID:      e.DocumentID,
			Metadata:        e.Metadata,
			SimilarityScore: h.Score,
			Reason:          Reason(words, e.Metadata),
		})
	}
	return results
}

// Similar returns documents closest to the latest indexed vector of
// documentID, excluding the document itself.
func (s *Service) Similar(ctx context.Context, documentID string, topK int) []Result {
	if topK <= 0 {
		topK = DefaultSimilarTopK
	}
	start := time.Now()
	_, span := observability.StartSearchSpan(ctx, observability.SpanSimilar, topK)
	defer span.End()

	results := s.similar(documentID, topK)
	observability.RecordSearchResult(span, len(results))
	s.metrics.RecordSearch("similar", time.Since(start), len(results))
	return results
}

func (s *Service) similar(documentID string, topK int) []Result {
	results := []Result{}
	slot, ok := s.index.LatestSlot(documentID)
	if !ok {
		return results
	}
	vec, ok := s.index.Vector(slot)
	if !ok {
		return results
	}

	hits, err := s.index.Search(vec, topK+1)
	if err != nil {
		s.logger.Error("Error searching index", "error", err)
		return results
	}
	for _, h := range hits {
		e, ok := s.index.Entry(h.Slot)
		if !ok || e.DocumentID == documentID {
			continue
		}
		results = append(results, Result{
			DocumentID:      e.DocumentID,
			Metadata:        e.Metadata,
			SimilarityScore: h.Score,
			Reason:          ReasonSimilar,
		})
		if len(results) == topK {
			break
		}
	}
	return results
}

// Reason explains a match: the query words found in the title, abstract or
// objectives, or a generic semantic-match message.
func Reason(queryWords []string, meta fields.Fields) string {
	haystacks := []string{
		strings.ToLower(meta.Title),
		strings.ToLower(meta.Abstract),
		strings.ToLower(meta.Objectives),
	}

	var matched []string
	seen := make(map[string]bool)
	for _, w := range queryWords {
		if seen[w] {
			continue
		}
		for _, h := range haystacks {
			if h != "" && strings.Contains(h, w) {
				matched = append(matched, w)
				seen[w] = true
				break
			}
		}
	}
	if len(matched) == 0 {
		return ReasonSemantic
	}
	return ReasonKeywordsPrefix + strings.Join(matched, ", ")
}
