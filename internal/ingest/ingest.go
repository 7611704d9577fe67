// Package ingest runs one document through extraction, field inference,
// embedding and indexing, and reports the outcome.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/graph"
	"github.com/efebarandurmaz/docintel/internal/ledger"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/pdftext"
	"github.com/efebarandurmaz/docintel/internal/vector"
)

// Job states.
const (
	StateReceived        = "received"
	StateTextExtracted   = "text_extracted"
	StateFieldsExtracted = "fields_extracted"
	StateEmbedded        = "embedded"
	StateIndexed         = "indexed"
	StateReported        = "reported"
	StateFailed          = "failed"
)

// Error codes carried in Result.Error.
const (
	ErrCodeNoText    = "NoTextExtracted"
	ErrCodeEmbedding = "EmbeddingFailed"
)

// DefaultNeighbours is the number of SIMILAR_TO edges projected per document.
const DefaultNeighbours = 5

// Request identifies one document to ingest.
type Request struct {
	JobID      string `json:"job_id,omitempty"`
	DocumentID string `json:"trabajo_id"`
	PDFPath    string `json:"pdf_path"`
	// KeepFile disables removal of PDFPath when the run ends.
	KeepFile bool `json:"keep_file,omitempty"`
}

// Result is the outcome of one ingestion run.
type Result struct {
	JobID              string         `json:"job_id"`
	DocumentID         string         `json:"document_id"`
	Success            bool           `json:"success"`
	State              string         `json:"state"`
	StructuredInfo     *fields.Fields `json:"structured_info"`
	EmbeddingGenerated bool           `json:"embedding_generated"`
	FileHash           string         `json:"file_hash,omitempty"`
	ContentLength      int            `json:"content_length"`
	SlotID             int            `json:"slot_id"`
	DuplicateOf        string         `json:"duplicate_of,omitempty"`
	Error              string         `json:"error,omitempty"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// BatchResult summarizes ProcessBatch.
type BatchResult struct {
	Total      int      `json:"total_processed"`
	Successful int      `json:"successful"`
	Results    []Result `json:"results"`
}

// TextExtractor turns a PDF into text.
type TextExtractor interface {
	Extract(ctx context.Context, pdfPath string) pdftext.Result
}

// FieldExtractor infers structured fields. It cannot fail.
type FieldExtractor interface {
	Extract(ctx context.Context, text string) fields.Fields
}

// Embedder produces a unit vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector store written by the orchestrator.
type Index interface {
	Add(vec []float32, documentID string, meta fields.Fields) (int, error)
	Save(dir string) error
	Search(query []float32, k int) ([]vector.Hit, error)
	Entry(slot int) (vector.Entry, bool)
	Len() int
}

// Ledger persists job transitions.
type Ledger interface {
	Record(ctx context.Context, job ledger.Job) error
	FindIndexedByHash(ctx context.Context, hash string) (ledger.Job, error)
}

// Reporter delivers a finished Result to the system of record. It is called
// exactly once per run.
type Reporter interface {
	Report(ctx context.Context, res Result) error
}

// Orchestrator coordinates the pipeline for one document at a time.
type Orchestrator struct {
	extractor  TextExtractor
	fields     FieldExtractor
	embedder   Embedder
	index      Index
	indexDir   string
	ledger     Ledger
	mirror     vector.Mirror
	graph      graph.Repository
	reporter   Reporter
	neighbours int
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger records every state transition and enables duplicate lookups.
func WithLedger(l Ledger) Option { return func(o *Orchestrator) { o.ledger = l } }

// WithMirror copies indexed vectors to an external store.
func WithMirror(m vector.Mirror) Option { return func(o *Orchestrator) { o.mirror = m } }

// WithGraph projects indexed documents into the catalog graph.
func WithGraph(g graph.Repository) Option { return func(o *Orchestrator) { o.graph = g } }

func WithReporter(r Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithNeighbours sets how many similarity edges are projected per document.
func WithNeighbours(n int) Option { return func(o *Orchestrator) { o.neighbours = n } }

func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. The index is saved to indexDir after every
// successful add; an empty indexDir disables saving.
func New(extractor TextExtractor, fx FieldExtractor, embedder Embedder, index Index, indexDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor:  extractor,
		fields:     fx,
		embedder:   embedder,
		index:      index,
		indexDir:   indexDir,
		neighbours: DefaultNeighbours,
		metrics:    observability.Metrics(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process ingests one document. It never returns an error: every outcome is
// described by the Result, which is also handed to the Reporter.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	start := time.Now()
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	log := o.logger.With("document_id", req.DocumentID, "job_id", req.JobID)

	ctx, span := observability.StartIngestSpan(ctx, req.DocumentID, req.JobID)
	defer span.End()

	if !req.KeepFile && req.PDFPath != "" {
		defer removeFile(log, req.PDFPath)
	}

	o.metrics.IngestInFlight.Inc()
	defer o.metrics.IngestInFlight.Dec()

	res := Result{JobID: req.JobID, DocumentID: req.DocumentID, State: StateReceived, SlotID: -1}
	o.record(ctx, log, &res)

	log.Info("Processing PDF", "path", req.PDFPath)
	res = o.run(ctx, log, req, res)

	outcome := observability.OutcomeIndexed
	switch {
	case res.Error == ErrCodeNoText:
		outcome = observability.OutcomeNoText
	case !res.Success:
		outcome = observability.OutcomeFailed
	}
	o.metrics.RecordIngest(time.Since(start), outcome)
	observability.RecordIngestResult(span, res.Success, res.State, res.SlotID, res.ContentLength)

	o.report(ctx, log, &res)
	log.Info("Finished processing PDF", "success", res.Success, "state", res.State,
		"slot_id", res.SlotID, "duration", time.Since(start))
	return res
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, req Request, res Result) Result {
	stageStart := time.Now()
	sctx, span := observability.StartStageSpan(ctx, observability.StageExtract)
	extracted := o.extractor.Extract(sctx, req.PDFPath)
	observability.RecordError(span, extracted.Err)
	span.End()
	o.metrics.ObserveStage(observability.StageExtract, stageStart)

	if !extracted.OK() {
		log.Warn("No text extracted from PDF", "error", extracted.Err)
		res.State = StateFailed
		res.Error = ErrCodeNoText
		o.record(ctx, log, &res)
		return res
	}

	text := extracted.Text
	res.FileHash = ContentHash(text)
	res.ContentLength = utf8.RuneCountInString(text)
	res.State = StateTextExtracted
	o.record(ctx, log, &res)

	var (
		info     fields.Fields
		vec      []float32
		embedErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer o.metrics.ObserveStage(observability.StageFields, time.Now())
		fctx, span := observability.StartStageSpan(gctx, observability.StageFields)
		defer span.End()
		info = o.fields.Extract(fctx, text)
		return nil
	})
	g.Go(func() error {
		defer o.metrics.ObserveStage(observability.StageEmbed, time.Now())
		ectx, span := observability.StartStageSpan(gctx, observability.StageEmbed)
		defer span.End()
		vec, embedErr = o.embedder.Embed(ectx, text)
		observability.RecordError(span, embedErr)
		return nil
	})
	_ = g.Wait()

	res.StructuredInfo = &info
	res.State = StateFieldsExtracted
	o.record(ctx, log, &res)

	if embedErr != nil {
		log.Error("Error generating embedding", "error", embedErr)
		res.State = StateFailed
		res.Error = ErrCodeEmbedding + ": " + embedErr.Error()
		o.record(ctx, log, &res)
		return res
	}
	res.EmbeddingGenerated = true
	res.State = StateEmbedded
	o.record(ctx, log, &res)

	if o.ledger != nil {
		prev, err := o.ledger.FindIndexedByHash(ctx, res.FileHash)
		switch {
		case err == nil:
			res.DuplicateOf = prev.DocumentID
			o.metrics.DuplicatesTotal.Inc()
			log.Info("Content already indexed", "duplicate_of", prev.DocumentID, "previous_job", prev.ID)
		case !errors.Is(err, ledger.ErrNotFound):
			log.Warn("Duplicate lookup failed", "error", err)
		}
	}

	stageStart = time.Now()
	slot, err := o.index.Add(vec, req.DocumentID, info)
	o.metrics.ObserveStage(observability.StageIndex, stageStart)
	if err != nil {
		log.Error("Error adding embedding to index", "error", err)
		res.State = StateFailed
		res.Error = ErrCodeEmbedding + ": " + err.Error()
		o.record(ctx, log, &res)
		return res
	}
	res.SlotID = slot
	res.Success = true
	res.State = StateIndexed
	o.metrics.IndexSize.Set(float64(o.index.Len()))

	if o.indexDir != "" {
		if err := o.index.Save(o.indexDir); err != nil {
			log.Error("Error saving index", "dir", o.indexDir, "error", err)
			res.Warnings = append(res.Warnings, "index save failed: "+err.Error())
		}
	}
	o.record(ctx, log, &res)

	o.sideEffects(ctx, log, &res, vec, info)
	return res
}

// sideEffects updates the optional mirror and graph. Failures only add
// warnings.
func (o *Orchestrator) sideEffects(ctx context.Context, log *slog.Logger, res *Result, vec []float32, info fields.Fields) {
	if o.mirror != nil {
		start := time.Now()
		mctx, span := observability.StartStageSpan(ctx, observability.StageMirror)
		err := o.mirror.Upsert(mctx, []vector.Point{{Slot: res.SlotID, DocumentID: res.DocumentID, Vector: vec, Metadata: info}})
		observability.RecordError(span, err)
		span.End()
		o.metrics.ObserveStage(observability.StageMirror, start)
		if err != nil {
			log.Warn("Mirror upsert failed", "error", err)
			res.Warnings = append(res.Warnings, "mirror upsert failed: "+err.Error())
		}
	}

	if o.graph != nil {
		start := time.Now()
		gctx, span := observability.StartStageSpan(ctx, observability.StageGraph)
		err := o.graph.StoreDocument(gctx, graph.Document{
			ID:       res.DocumentID,
			Title:    info.Title,
			Year:     info.Year,
			Career:   info.Career,
			WorkType: info.WorkType,
			Slot:     res.SlotID,
			Similar:  o.neighboursOf(vec, res.DocumentID),
		})
		observability.RecordError(span, err)
		span.End()
		o.metrics.ObserveStage(observability.StageGraph, start)
		if err != nil {
			log.Warn("Graph projection failed", "error", err)
			res.Warnings = append(res.Warnings, "graph projection failed: "+err.Error())
		}
	}
}

func (o *Orchestrator) neighboursOf(vec []float32, documentID string) []graph.Neighbour {
	if o.neighbours <= 0 {
		return nil
	}
	hits, err := o.index.Search(vec, o.neighbours+1)
	if err != nil {
		return nil
	}
	seen := map[string]bool{documentID: true}
	var out []graph.Neighbour
	for _, h := range hits {
		e, ok := o.index.Entry(h.Slot)
		if !ok || seen[e.DocumentID] {
			continue
		}
		seen[e.DocumentID] = true
		out = append(out, graph.Neighbour{DocumentID: e.DocumentID, Score: h.Score})
		if len(out) == o.neighbours {
			break
		}
	}
	return out
}

func (o *Orchestrator) report(ctx context.Context, log *slog.Logger, res *Result) {
	if o.reporter == nil {
		return
	}
	if err := o.reporter.Report(context.WithoutCancel(ctx), *res); err != nil {
		log.Error("Error reporting result", "error", err)
		return
	}
	if res.Success {
		res.State = StateReported
		o.record(ctx, log, res)
	}
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, res *Result) {
	if o.ledger == nil {
		return
	}
	job := ledger.Job{
		ID:          res.JobID,
		DocumentID:  res.DocumentID,
		State:       res.State,
		Error:       res.Error,
		ContentHash: res.FileHash,
		Slot:        res.SlotID,
	}
	if err := o.ledger.Record(context.WithoutCancel(ctx), job); err != nil {
		log.Warn("Error recording job state", "state", res.State, "error", err)
	}
}

// ProcessBatch ingests requests one after another.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request) BatchResult {
	out := BatchResult{Total: len(reqs), Results: make([]Result, 0, len(reqs))}
	for _, req := range reqs {
		res := o.Process(ctx, req)
		if res.Success {
			out.Successful++
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// ContentHash is the lowercase hex MD5 of text.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func removeFile(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Error removing temporary file", "path", path, "error", err)
	}
}
