// Package service assembles the document-intelligence components from
// configuration and owns their lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/docintel/internal/callback"
	"github.com/efebarandurmaz/docintel/internal/config"
	"github.com/efebarandurmaz/docintel/internal/embedding"
	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/graph"
	"github.com/efebarandurmaz/docintel/internal/graph/neo4j"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/ledger"
	"github.com/efebarandurmaz/docintel/internal/llm"
	"github.com/efebarandurmaz/docintel/internal/llm/providers"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/pdftext"
	"github.com/efebarandurmaz/docintel/internal/search"
	"github.com/efebarandurmaz/docintel/internal/secrets"
	"github.com/efebarandurmaz/docintel/internal/textnorm"
	"github.com/efebarandurmaz/docintel/internal/vector"
	"github.com/efebarandurmaz/docintel/internal/vector/qdrant"
)

// ModelInfo is the introspection view served by /model_info. Unavailable
// models are null.
type ModelInfo struct {
	EmbeddingModel       *string `json:"embedding_model"`
	SummarizationModel   *string `json:"summarization_model"`
	NormalizerModel      *string `json:"normalizer_model"`
	IndexSize            int     `json:"index_size"`
	TotalMetadataEntries int     `json:"total_metadata_entries"`
	Dimension            int     `json:"dimension"`
}

// Service owns every pipeline component. Build it with Open and release it
// with Close.
type Service struct {
	Config *config.Config

	Index        *vector.Index
	Normalizer   *textnorm.Normalizer
	Extractor    ingest.TextExtractor
	Fields       *fields.Extractor
	Embedder     *embedding.Generator
	Orchestrator *ingest.Orchestrator
	Search       *search.Service
	Ledger       *ledger.Store
	Graph        graph.Repository
	Mirror       vector.Mirror
	Notifier     *callback.Notifier
	Secrets      *secrets.Manager
	Metrics      *observability.PipelineMetrics

	reporter ingest.Reporter
	logger   *slog.Logger
}

// Option overrides a component built by Open.
type Option func(*openOptions)

type openOptions struct {
	encoder      embedding.Encoder
	encoderModel string
	extractor    ingest.TextExtractor
	reporter     ingest.Reporter
	metrics      *observability.PipelineMetrics
	logger       *slog.Logger
}

// WithEncoder replaces the configured embedding encoder.
func WithEncoder(enc embedding.Encoder, model string) Option {
	return func(o *openOptions) { o.encoder, o.encoderModel = enc, model }
}

// WithTextExtractor replaces the pdftotext-based extractor.
func WithTextExtractor(x ingest.TextExtractor) Option {
	return func(o *openOptions) { o.extractor = x }
}

// WithReporter replaces the HTTP callback notifier.
func WithReporter(r ingest.Reporter) Option {
	return func(o *openOptions) { o.reporter = r }
}

func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(o *openOptions) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// Open loads the index and builds every component described by cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.Metrics()
	}

	s := &Service{Config: cfg, Metrics: o.metrics, logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			s.closeResources(ctx)
		}
	}()

	var err error
	if s.Secrets, err = secrets.NewManager(cfg.Secrets); err != nil {
		return nil, err
	}

	if s.Index, err = vector.Load(cfg.Index.Dir, cfg.Index.Dimension); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	if cfg.Index.Dimension > 0 && s.Index.Dim() != cfg.Index.Dimension {
		return nil, fmt.Errorf("index in %s has dimension %d, configured %d", cfg.Index.Dir, s.Index.Dim(), cfg.Index.Dimension)
	}
	s.Metrics.IndexSize.Set(float64(s.Index.Len()))
	s.logger.Info("Vector index loaded", "dir", cfg.Index.Dir, "size", s.Index.Len(), "dimension", s.Index.Dim())

	var lemmatizer *textnorm.Spanish
	if cfg.Normalizer.Lemmatizer == "spanish" {
		lemmatizer = textnorm.NewSpanish()
		s.Normalizer = textnorm.New(lemmatizer)
	} else {
		s.Normalizer = textnorm.New(nil)
	}

	s.Extractor = o.extractor
	if s.Extractor == nil {
		s.Extractor = pdftext.New(
			pdftext.NewLayoutBackend(cfg.Extractor.Pdftotext),
			pdftext.NewRawBackend(cfg.Extractor.Pdftotext),
			pdftext.WithMinLength(cfg.Extractor.MinLength),
			pdftext.WithLogger(s.logger),
		)
	}

	factory := providers.NewFactory()

	encoder, model := o.encoder, o.encoderModel
	if encoder == nil {
		if encoder, model, err = s.buildEncoder(ctx, factory, cfg.Embedding); err != nil {
			return nil, err
		}
	}
	s.Embedder = embedding.New(encoder, s.Normalizer, model, cfg.Index.Dimension)

	summarizer, err := s.buildSummarizer(ctx, factory, cfg.Summarizer, lemmatizer)
	if err != nil {
		return nil, err
	}
	fieldOpts := []fields.Option{fields.WithLogger(s.logger)}
	if summarizer != nil {
		fieldOpts = append(fieldOpts, fields.WithSummarizer(summarizer))
	}
	s.Fields = fields.NewExtractor(fieldOpts...)

	if cfg.Ledger.Enabled {
		if s.Ledger, err = ledger.Open(cfg.Ledger.Path); err != nil {
			return nil, err
		}
	}

	if cfg.Qdrant.Enabled {
		mirror, err := qdrant.New(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Index.Dimension)
		if err != nil {
			return nil, err
		}
		s.Mirror = mirror
	}

	switch cfg.Graph.Backend {
	case "memory":
		s.Graph = graph.NewMemory()
	case "neo4j":
		password := s.Secrets.Resolve(ctx, cfg.Graph.Password, secrets.Neo4jPassword)
		repo, err := neo4j.New(ctx, cfg.Graph.URI, cfg.Graph.Username, password, cfg.Graph.Database)
		if err != nil {
			return nil, err
		}
		s.Graph = repo
	}

	s.reporter = o.reporter
	if s.reporter == nil && cfg.Callback.Enabled {
		s.Notifier = callback.New(callback.Config{
			BaseURL:           cfg.Callback.BaseURL,
			Token:             s.Secrets.Resolve(ctx, cfg.Callback.Token, secrets.CallbackToken),
			Timeout:           cfg.Callback.Timeout,
			RequestsPerSecond: cfg.Callback.RequestsPerSecond,
		}, s.Metrics)
		s.reporter = s.Notifier
	}

	ingestOpts := []ingest.Option{
		ingest.WithMetrics(s.Metrics),
		ingest.WithLogger(s.logger),
		ingest.WithNeighbours(cfg.Ingest.Neighbours),
	}
	if s.reporter != nil {
		ingestOpts = append(ingestOpts, ingest.WithReporter(s.reporter))
	}
	if s.Ledger != nil {
		ingestOpts = append(ingestOpts, ingest.WithLedger(s.Ledger))
	}
	if s.Mirror != nil {
		ingestOpts = append(ingestOpts, ingest.WithMirror(s.Mirror))
	}
	if s.Graph != nil {
		ingestOpts = append(ingestOpts, ingest.WithGraph(s.Graph))
	}
	s.Orchestrator = ingest.New(s.Extractor, s.Fields, s.Embedder, s.Index, cfg.Index.Dir, ingestOpts...)
	s.Search = search.New(s.Embedder, s.Index, s.Metrics)

	ok = true
	return s, nil
}

func (s *Service) buildEncoder(ctx context.Context, factory *llm.ProviderFactory, mc config.ModelConfig) (embedding.Encoder, string, error) {
	switch mc.Provider {
	case "", "none":
		s.logger.Warn("No embedding model configured; documents will not be indexed")
		return nil, "", nil
	case "hashing":
		return embedding.NewHashing(s.Config.Index.Dimension), embedding.HashingModel, nil
	}
	p, err := factory.Create(s.providerConfig(ctx, mc, secrets.EmbeddingAPIKey))
	if err != nil {
		return nil, "", fmt.Errorf("embedding provider: %w", err)
	}
	return p, mc.Model, nil
}

func (s *Service) buildSummarizer(ctx context.Context, factory *llm.ProviderFactory, mc config.ModelConfig, lemmatizer *textnorm.Spanish) (fields.Summarizer, error) {
	switch mc.Provider {
	case "", "none":
		return nil, nil
	case "frequency":
		isStopword := func(string) bool { return false }
		if lemmatizer != nil {
			isStopword = lemmatizer.IsStopword
		}
		return fields.NewFrequencySummarizer(isStopword), nil
	}
	p, err := factory.Create(s.providerConfig(ctx, mc, secrets.SummarizerAPIKey))
	if err != nil {
		return nil, fmt.Errorf("summarizer provider: %w", err)
	}
	return fields.NewLLMSummarizer(p, mc.Model), nil
}

func (s *Service) providerConfig(ctx context.Context, mc config.ModelConfig, key secrets.Key) llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = mc.Provider
	pc.APIKey = s.Secrets.Resolve(ctx, mc.APIKey, key)
	pc.Model = mc.Model
	pc.EmbedModel = mc.Model
	pc.BaseURL = mc.BaseURL
	if mc.Timeout > 0 {
		pc.Timeout = mc.Timeout
	}
	if mc.MaxRetries > 0 {
		pc.MaxRetries = mc.MaxRetries
	}
	if mc.RequestsPerMinute > 0 {
		pc.RateLimit = &llm.RateLimitConfig{RequestsPerMinute: mc.RequestsPerMinute, BurstSize: 1}
	}
	return pc
}

// Info reports the loaded models and index size.
func (s *Service) Info() ModelInfo {
	return ModelInfo{
		EmbeddingModel:       optional(s.Embedder.Model()),
		SummarizationModel:   optional(s.Fields.SummarizerModel()),
		NormalizerModel:      optional(s.Normalizer.Model()),
		IndexSize:            s.Index.Len(),
		TotalMetadataEntries: s.Index.MetadataCount(),
		Dimension:            s.Index.Dim(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Healthy reports whether the components needed to index documents are
// usable.
func (s *Service) Healthy(ctx context.Context) error {
	if !s.Embedder.Available() {
		return embedding.ErrUnavailable
	}
	if s.Ledger != nil {
		if err := s.Ledger.Ping(ctx); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	return nil
}

// Close saves the index if it has unsaved slots, waits for pending callbacks
// and closes external stores. An unchanged index is never written, so a
// read-only process cannot overwrite what another process saved.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.Index != nil && s.Index.Dirty() {
		if err := s.Index.Save(s.Config.Index.Dir); err != nil {
			errs = append(errs, fmt.Errorf("saving index: %w", err))
		}
	}
	if err := s.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeResources(ctx context.Context) error {
	var errs []error
	if s.Notifier != nil {
		if err := s.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("callback: %w", err))
		}
	}
	if s.Mirror != nil {
		if err := s.Mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror: %w", err))
		}
	}
	if s.Graph != nil {
		if err := s.Graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph: %w", err))
		}
	}
	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}
