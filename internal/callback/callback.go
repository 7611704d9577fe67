// Package callback delivers ingestion results to the system of record.
// Delivery is asynchronous and at-most-once: failures are logged and never
// retried.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/observability"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://backend:8001"
	// DefaultTimeout bounds one delivery.
	DefaultTimeout = 10 * time.Second
	pathTemplate   = "/api/v1/trabajos/%s/aplicar_ia/"
)

// Payload is the body POSTed to the backend.
type Payload struct {
	DocumentID         string         `json:"document_id"`
	Success            bool           `json:"success"`
	StructuredInfo     *fields.Fields `json:"structured_info"`
	EmbeddingGenerated bool           `json:"embedding_generated"`
	Embedding          bool           `json:"embedding"`
	FileHash           *string        `json:"file_hash"`
	ContentLength      int            `json:"content_length"`
	Error              *string        `json:"error"`
}

// NewPayload converts an ingestion result to the wire format.
func NewPayload(res ingest.Result) Payload {
	p := Payload{
		DocumentID:         res.DocumentID,
		Success:            res.Success,
		StructuredInfo:     res.StructuredInfo,
		EmbeddingGenerated: res.EmbeddingGenerated,
		Embedding:          res.EmbeddingGenerated,
		ContentLength:      res.ContentLength,
	}
	if res.FileHash != "" {
		h := res.FileHash
		p.FileHash = &h
	}
	if res.Error != "" {
		e := res.Error
		p.Error = &e
	}
	return p
}

// Config configures a Notifier.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond throttles deliveries; 0 disables throttling.
	RequestsPerSecond float64
}

// Notifier implements ingest.Reporter over HTTP.
type Notifier struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.PipelineMetrics
	logger  *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a Notifier.
func New(cfg Config, metrics *observability.PipelineMetrics) *Notifier {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if metrics == nil {
		metrics = observability.Metrics()
	}
	return &Notifier{
		baseURL: base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  slog.Default(),
	}
}

// URL returns the callback endpoint for a document.
func (n *Notifier) URL(documentID string) string {
	return n.baseURL + fmt.Sprintf(pathTemplate, url.PathEscape(documentID))
}

// Report schedules delivery of res and returns immediately.
func (n *Notifier) Report(ctx context.Context, res ingest.Result) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("notifier closed, dropping result for %s", res.DocumentID)
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		if err := n.Send(context.WithoutCancel(ctx), res); err != nil {
			n.logger.Error("Error notifying backend", "document_id", res.DocumentID, "job_id", res.JobID, "error", err)
		}
	}()
	return nil
}

// Send delivers res synchronously.
func (n *Notifier) Send(ctx context.Context, res ingest.Result) (err error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageCallback)
	defer func() {
		observability.RecordError(span, err)
		span.End()
		n.metrics.RecordCallback(err)
	}()

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("callback throttle: %w", err)
	}

	body, err := json.Marshal(NewPayload(res))
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL(res.DocumentID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	n.logger.Info("Backend notified", "document_id", res.DocumentID, "status", resp.StatusCode)
	return nil
}

// Close stops accepting results and waits for pending deliveries or ctx.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ingest.Reporter = (*Notifier)(nil)
