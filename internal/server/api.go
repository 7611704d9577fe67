package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/docintel/internal/config"
	"github.com/efebarandurmaz/docintel/internal/graph"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/ledger"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/search"
	"github.com/efebarandurmaz/docintel/internal/service"
)

// maxFilenameLength bounds the sanitized upload name.
const maxFilenameLength = 150

const defaultRelatedLimit = 10

// Server is the HTTP API in front of a Service.
type Server struct {
	svc       *service.Service
	scheduler ingest.Scheduler
	health    *HealthServer
	cfg       config.ServerConfig
	limiter   *rate.Limiter
	metrics   *observability.PipelineMetrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates the API server. Uploads are handed to scheduler; batch
// requests run synchronously on the service's orchestrator.
func New(svc *service.Service, scheduler ingest.Scheduler, version string) *Server {
	cfg := svc.Config.Server
	s := &Server{
		svc:       svc,
		scheduler: scheduler,
		health:    NewHealthServer(version),
		cfg:       cfg,
		metrics:   svc.Metrics,
		logger:    slog.Default(),
	}
	if cfg.UploadRPS > 0 {
		burst := cfg.UploadBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRPS), burst)
	}

	s.health.SetInfo(func() any { return svc.Info() })
	s.health.RegisterCheck("index", IndexHealthChecker(func() (int, int, int) {
		return svc.Index.Len(), svc.Index.MetadataCount(), svc.Index.Dim()
	}))
	s.health.RegisterCheck("embedding", EmbeddingHealthChecker(svc.Embedder.Model(), svc.Embedder.Available))
	if svc.Ledger != nil {
		s.health.RegisterCheck("ledger", LedgerHealthChecker(svc.Ledger.Ping))
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Health exposes the probe state so callers can flip readiness and register
// extra checks.
func (s *Server) Health() *HealthServer {
	return s.health
}

// Handler returns the routed API wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /process_pdf", s.handleProcessPDF)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /similar", s.handleSimilar)
	mux.HandleFunc("GET /model_info", s.handleModelInfo)
	mux.HandleFunc("POST /batch_process", s.handleBatch)
	mux.HandleFunc("POST /rebuild_index", s.handleRebuild)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /documents/{id}/related", s.handleRelated)
	mux.Handle("GET /metrics", s.metrics.Handler())
	s.health.Register(mux)

	return corsMiddleware(s.cfg.CORSOrigins, s.loggingMiddleware(mux))
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not ready and stops accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Document intelligence service",
		"status":  "running",
		"endpoints": []string{
			"POST /process_pdf",
			"POST /search",
			"POST /similar",
			"GET /model_info",
			"POST /batch_process",
			"POST /rebuild_index",
			"GET /jobs/{id}",
			"GET /documents/{id}/related",
			"GET /health",
			"GET /metrics",
		},
	})
}

type processResponse struct {
	Success   bool   `json:"success"`
	TrabajoID string `json:"trabajo_id"`
	JobID     string `json:"job_id"`
	Message   string `json:"message"`
}

func (s *Server) handleProcessPDF(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "too many uploads, retry later")
		return
	}

	maxBytes := int64(s.cfg.MaxUploadMB) << 20
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB))
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	documentID := strings.TrimSpace(r.FormValue("trabajo_id"))
	if documentID == "" {
		documentID = strings.TrimSpace(r.FormValue("document_id"))
	}
	if documentID == "" {
		respondError(w, http.StatusBadRequest, "trabajo_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		respondError(w, http.StatusBadRequest, "Solo se permiten archivos PDF")
		return
	}

	path, err := s.saveUpload(documentID, header.Filename, file)
	if err != nil {
		s.logger.Error("Failed to store upload", "document_id", documentID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not store the uploaded file")
		return
	}

	jobID, err := s.scheduler.Submit(r.Context(), ingest.Request{DocumentID: documentID, PDFPath: path})
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ingest.ErrQueueFull) || errors.Is(err, ingest.ErrClosed) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("Failed to schedule ingestion", "document_id", documentID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not schedule processing")
		return
	}

	s.logger.Info("PDF accepted for processing", "document_id", documentID, "job_id", jobID, "path", path)
	respondJSON(w, http.StatusAccepted, processResponse{
		Success:   true,
		TrabajoID: documentID,
		JobID:     jobID,
		Message:   "PDF recibido, procesamiento iniciado",
	})
}

// saveUpload writes the upload to {upload_dir}/{id}_{name}. If that name is
// already taken by a pending job a unique suffix is added.
func (s *Server) saveUpload(documentID, filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}

	name := SanitizeFilename(documentID + "_" + filename)
	dst, err := os.OpenFile(filepath.Join(s.cfg.UploadDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		ext := filepath.Ext(name)
		dst, err = os.CreateTemp(s.cfg.UploadDir, strings.TrimSuffix(name, ext)+"_*"+ext)
	}
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("closing upload: %w", err)
	}
	return dst.Name(), nil
}

// SanitizeFilename keeps the base name, replaces spaces with underscores,
// drops characters outside [A-Za-z0-9._-] and truncates to 150 bytes.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxFilenameLength {
		out = out[:maxFilenameLength]
	}
	if out == "" || out == "." || out == ".." {
		out = "upload.pdf"
	}
	return out
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchHit struct {
	TrabajoID string `json:"trabajo_id"`
	search.Result
}

func toHits(results []search.Result) []searchHit {
	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{TrabajoID: r.DocumentID, Result: r})
	}
	return hits
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	respondJSON(w, http.StatusOK, toHits(s.svc.Search.Search(r.Context(), req.Query, req.TopK)))
}

type similarRequest struct {
	TrabajoID  string `json:"trabajo_id"`
	DocumentID string `json:"document_id"`
	TopK       int    `json:"top_k"`
}

type similarResponse struct {
	TrabajoID       string      `json:"trabajo_id"`
	SimilarTrabajos []searchHit `json:"similar_trabajos"`
	TotalFound      int         `json:"total_found"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := req.TrabajoID
	if id == "" {
		id = req.DocumentID
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "trabajo_id is required")
		return
	}
	hits := toHits(s.svc.Search.Similar(r.Context(), id, req.TopK))
	respondJSON(w, http.StatusOK, similarResponse{
		TrabajoID:       id,
		SimilarTrabajos: hits,
		TotalFound:      len(hits),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []ingest.Request
	if !decodeJSON(w, r, &reqs) {
		return
	}
	for i, req := range reqs {
		if req.DocumentID == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("item %d: trabajo_id is required", i))
			return
		}
		if !s.underUploadDir(req.PDFPath) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("item %d: pdf_path must be inside the upload directory", i))
			return
		}
		reqs[i].JobID = ""
	}
	respondJSON(w, http.StatusOK, s.svc.Orchestrator.ProcessBatch(r.Context(), reqs))
}

func (s *Server) underUploadDir(path string) bool {
	if path == "" {
		return false
	}
	root, err := filepath.Abs(s.cfg.UploadDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "rebuilding",
		"current_index_size": s.svc.Index.Len(),
		"message":            "Re-submit documents through /process_pdf to rebuild the index",
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "job ledger is disabled")
		return
	}
	job, err := s.svc.Ledger.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to read job", "job_id", r.PathValue("id"), "error", err)
		respondError(w, http.StatusInternalServerError, "could not read job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type relatedResponse struct {
	TrabajoID string          `json:"trabajo_id"`
	Related   []graph.Related `json:"related"`
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if s.svc.Graph == nil {
		respondError(w, http.StatusServiceUnavailable, "catalog graph is disabled")
		return
	}
	limit := defaultRelatedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	related, err := s.svc.Graph.Related(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("Failed to query catalog graph", "document_id", id, "error", err)
		respondError(w, http.StatusBadGateway, "catalog graph query failed")
		return
	}
	if related == nil {
		related = []graph.Related{}
	}
	respondJSON(w, http.StatusOK, relatedResponse{TrabajoID: id, Related: related})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// corsMiddleware answers preflight requests and sets CORS headers. A "*"
// entry allows every origin.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs each request and records the HTTP metrics keyed by
// the matched route pattern.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}
