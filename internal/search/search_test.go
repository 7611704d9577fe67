package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docintel/internal/embedding"
	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/textnorm"
	"github.com/efebarandurmaz/docintel/internal/vector"
)

type errEmbedder struct{}

func (errEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, embedding.ErrUnavailable
}

func newEmbedder() *embedding.Generator {
	return embedding.New(embedding.NewHashing(embedding.Dimension), textnorm.New(textnorm.NewSpanish()),
		embedding.HashingModel, embedding.Dimension)
}

var docs = []struct {
	id   string
	text string
	meta fields.Fields
}{
	{"1", "sistema de mantenimiento para buques tanqueros de la flota naval", fields.Fields{
		Title: "Mantenimiento de buques tanqueros", Career: fields.CareerNaval,
	}},
	{"2", "promoción turística para hoteles de playa y ocupación hotelera", fields.Fields{
		Title: "Promoción de hoteles", Abstract: "Estrategias de turismo de playa", Career: fields.CareerTourism,
	}},
}

func newService(t *testing.T) (*Service, *vector.Index) {
	t.Helper()
	emb := newEmbedder()
	ix := vector.NewIndex(embedding.Dimension)
	for _, d := range docs {
		vec, err := emb.Embed(context.Background(), d.text)
		require.NoError(t, err)
		_, err = ix.Add(vec, d.id, d.meta)
		require.NoError(t, err)
	}
	return New(emb, ix, observability.NewPipelineMetrics()), ix
}

func TestSearch_TopKLargerThanIndex(t *testing.T) {
	svc, _ := newService(t)
	results := svc.Search(context.Background(), "Buques flota", 5)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].DocumentID)
	assert.GreaterOrEqual(t, results[0].SimilarityScore, results[1].SimilarityScore)
	assert.Equal(t, ReasonKeywordsPrefix+"buques", results[0].Reason)
}

func TestSearch_DefaultTopK(t *testing.T) {
	svc, _ := newService(t)
	assert.Len(t, svc.Search(context.Background(), "hoteles", 0), 2)
}

func TestSearch_Degrades(t *testing.T) {
	svc, ix := newService(t)
	ctx := context.Background()

	assert.Empty(t, svc.Search(ctx, "   ", 5))
	assert.NotNil(t, svc.Search(ctx, "", 5))

	broken := New(errEmbedder{}, ix, observability.NewPipelineMetrics())
	assert.Empty(t, broken.Search(ctx, "buques", 5))

	empty := New(newEmbedder(), vector.NewIndex(embedding.Dimension), observability.NewPipelineMetrics())
	assert.Empty(t, empty.Search(ctx, "buques", 5))
}

func TestSimilar(t *testing.T) {
	svc, ix := newService(t)
	ctx := context.Background()

	results := svc.Similar(ctx, "1", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].DocumentID)
	assert.Equal(t, ReasonSimilar, results[0].Reason)

	assert.Empty(t, svc.Similar(ctx, "missing", 5))

	// A re-ingested document is queried by its latest vector and never
	// returned as its own neighbour.
	vec, ok := ix.Vector(1)
	require.True(t, ok)
	_, err := ix.Add(vec, "1", docs[0].meta)
	require.NoError(t, err)
	results = svc.Similar(ctx, "1", 0)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-5)
}

func TestReason(t *testing.T) {
	meta := fields.Fields{
		Title:      "Sistema de gestión hospitalaria",
		Abstract:   "Se propone un software para pacientes",
		Objectives: "Mejorar la atención",
	}
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"title and abstract", "software hospitalaria", ReasonKeywordsPrefix + "software, hospitalaria"},
		{"dedup keeps first order", "atención software atención", ReasonKeywordsPrefix + "atención, software"},
		{"substring match", "gest", ReasonKeywordsPrefix + "gest"},
		{"no match", "turismo", ReasonSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := strings.Fields(strings.ToLower(tt.query))
			assert.Equal(t, tt.want, Reason(words, meta))
		})
	}
	assert.Equal(t, ReasonSemantic, Reason([]string{"x"}, fields.Fields{}))
}
