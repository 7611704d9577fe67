package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docintel/internal/config"
	"github.com/efebarandurmaz/docintel/internal/embedding"
	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/pdftext"
	"github.com/efebarandurmaz/docintel/internal/textnorm"
	"github.com/efebarandurmaz/docintel/internal/vector"
)

type staticExtractor map[string]string

func (s staticExtractor) Extract(_ context.Context, path string) pdftext.Result {
	if text := s[path]; text != "" {
		return pdftext.Result{Text: text, Backend: "static"}
	}
	return pdftext.Result{Err: pdftext.ErrNoText}
}

type collector struct {
	mu      sync.Mutex
	results []ingest.Result
}

func (c *collector) Report(_ context.Context, r ingest.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("BACKEND_API_URL", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Index.Dir = filepath.Join(dir, "index")
	cfg.Ledger.Path = filepath.Join(dir, "ledger.db")
	cfg.Graph.Backend = "memory"
	return cfg
}

const thesis = `UNIVERSIDAD NACIONAL EXPERIMENTAL
Trabajo Especial de Grado
Plataforma de software para la gestión de historias clínicas
2020
Objetivo general: digitalizar las historias clínicas del hospital universitario
para mejorar la atención de cada paciente y reducir los tiempos de consulta.`

func TestOpen_ProcessSearchAndReopen(t *testing.T) {
	cfg := testConfig(t)
	reports := &collector{}
	extractor := staticExtractor{"/uploads/5_tesis.pdf": thesis}
	ctx := context.Background()

	svc, err := Open(ctx, cfg,
		WithTextExtractor(extractor),
		WithReporter(reports),
		WithMetrics(observability.NewPipelineMetrics()))
	require.NoError(t, err)

	info := svc.Info()
	require.NotNil(t, info.EmbeddingModel)
	assert.Equal(t, embedding.HashingModel, *info.EmbeddingModel)
	require.NotNil(t, info.SummarizationModel)
	assert.Equal(t, fields.FrequencyModel, *info.SummarizationModel)
	require.NotNil(t, info.NormalizerModel)
	assert.Equal(t, textnorm.SpanishModel, *info.NormalizerModel)
	assert.Equal(t, 0, info.IndexSize)
	assert.Equal(t, 384, info.Dimension)
	assert.NoError(t, svc.Healthy(ctx))

	res := svc.Orchestrator.Process(ctx, ingest.Request{DocumentID: "5", PDFPath: "/uploads/5_tesis.pdf"})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.StructuredInfo)
	assert.NotEmpty(t, res.StructuredInfo.Abstract)
	assert.Equal(t, fields.CareerSystems, res.StructuredInfo.Career)

	results := svc.Search.Search(ctx, "historias clínicas", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "5", results[0].DocumentID)

	job, err := svc.Ledger.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StateReported, job.State)
	assert.Len(t, reports.results, 1)
	require.NoError(t, svc.Close(ctx))

	reopened, err := Open(ctx, cfg, WithTextExtractor(extractor), WithMetrics(observability.NewPipelineMetrics()))
	require.NoError(t, err)
	defer reopened.Close(ctx)
	info = reopened.Info()
	assert.Equal(t, 1, info.IndexSize)
	assert.Equal(t, 1, info.TotalMetadataEntries)
	assert.NotNil(t, reopened.Notifier, "callback notifier is the default reporter")
}

func TestOpen_NoModels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "none"
	cfg.Summarizer.Provider = "none"
	cfg.Normalizer.Lemmatizer = "none"
	cfg.Ledger.Enabled = false
	cfg.Callback.Enabled = false
	ctx := context.Background()

	svc, err := Open(ctx, cfg, WithTextExtractor(staticExtractor{"a.pdf": thesis}), WithMetrics(observability.NewPipelineMetrics()))
	require.NoError(t, err)
	defer svc.Close(ctx)

	info := svc.Info()
	assert.Nil(t, info.EmbeddingModel)
	assert.Nil(t, info.SummarizationModel)
	assert.Nil(t, info.NormalizerModel)
	assert.ErrorIs(t, svc.Healthy(ctx), embedding.ErrUnavailable)

	res := svc.Orchestrator.Process(ctx, ingest.Request{DocumentID: "a", PDFPath: "a.pdf"})
	assert.False(t, res.Success)
	assert.NotNil(t, res.StructuredInfo, "fields are reported without an embedding model")
	assert.Equal(t, 0, svc.Index.Len())
}

func TestOpen_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "word2vec"
	_, err := Open(context.Background(), cfg, WithMetrics(observability.NewPipelineMetrics()))
	assert.ErrorContains(t, err, "embedding provider")
}

const navalThesis = `UNIVERSIDAD MARITIMA DEL CARIBE
Diseño estructural del casco de un buque de carga
2019
Objetivo: evaluar la resistencia del casco del buque ante cargas de oleaje.`

func TestClose_ReadOnlyServiceKeepsOtherWriters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Callback.Enabled = false
	ctx := context.Background()
	extractor := staticExtractor{"a.pdf": thesis, "b.pdf": navalThesis}

	writer, err := Open(ctx, cfg, WithTextExtractor(extractor), WithMetrics(observability.NewPipelineMetrics()))
	require.NoError(t, err)
	defer writer.Close(ctx)
	require.True(t, writer.Orchestrator.Process(ctx, ingest.Request{DocumentID: "a", PDFPath: "a.pdf", KeepFile: true}).Success)

	readerCfg := *cfg
	readerCfg.Ledger.Enabled = false
	reader, err := Open(ctx, &readerCfg, WithTextExtractor(extractor), WithMetrics(observability.NewPipelineMetrics()))
	require.NoError(t, err)
	require.Equal(t, 1, reader.Index.Len())

	require.True(t, writer.Orchestrator.Process(ctx, ingest.Request{DocumentID: "b", PDFPath: "b.pdf", KeepFile: true}).Success)
	onDisk, err := vector.Load(cfg.Index.Dir, cfg.Index.Dimension)
	require.NoError(t, err)
	require.Equal(t, 2, onDisk.Len())

	reader.Search.Search(ctx, "historias clínicas", 5)
	require.NoError(t, reader.Close(ctx))

	onDisk, err = vector.Load(cfg.Index.Dir, cfg.Index.Dimension)
	require.NoError(t, err)
	assert.Equal(t, 2, onDisk.Len(), "closing an unchanged index must not rewrite it")
}

func TestOpen_DimensionMismatch(t *testing.T) {
	cfg := testConfig(t)
	ix := vector.NewIndex(8)
	_, err := ix.Add(make([]float32, 8), "x", fields.Fields{})
	require.NoError(t, err)
	require.NoError(t, ix.Save(cfg.Index.Dir))

	_, err = Open(context.Background(), cfg, WithMetrics(observability.NewPipelineMetrics()))
	assert.ErrorContains(t, err, "dimension 8, configured 384")
}
