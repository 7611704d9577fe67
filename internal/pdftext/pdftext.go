// Package pdftext extracts raw text from PDF files with a primary
// layout-aware backend and a more lenient fallback.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// MinContentLength is the number of characters below which the primary
// backend's output is discarded in favor of the fallback.
const MinContentLength = 100

// ErrNoText is reported when neither backend produced any text.
var ErrNoText = errors.New("no text extracted")

// Backend turns a PDF into per-page text.
type Backend interface {
	Name() string
	Pages(ctx context.Context, pdfPath string) ([]string, error)
}

// Result is the outcome of an extraction. Text is empty whenever Err is set.
type Result struct {
	Text    string
	Backend string
	Err     error
}

// OK reports whether text was extracted.
func (r Result) OK() bool {
	return r.Err == nil && r.Text != ""
}

// Extractor runs the primary backend and falls back when its output is too
// short to be useful.
type Extractor struct {
	primary   Backend
	fallback  Backend
	minLength int
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMinLength overrides MinContentLength.
func WithMinLength(n int) Option {
	return func(e *Extractor) { e.minLength = n }
}

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor. Either backend may be nil.
func New(primary, fallback Backend, opts ...Option) *Extractor {
	e := &Extractor{
		primary:   primary,
		fallback:  fallback,
		minLength: MinContentLength,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of the PDF at pdfPath. It never returns a Go
// error: failures are carried in Result.Err and logged.
func (e *Extractor) Extract(ctx context.Context, pdfPath string) Result {
	var primaryErr error
	if e.primary != nil {
		text, err := e.run(ctx, e.primary, pdfPath)
		if err == nil && utf8.RuneCountInString(text) >= e.minLength {
			e.logger.Info("Extracted text from PDF", "path", pdfPath, "backend", e.primary.Name(), "chars", len(text))
			return Result{Text: text, Backend: e.primary.Name()}
		}
		primaryErr = err
		e.logger.Debug("Primary extraction insufficient, trying fallback",
			"path", pdfPath, "backend", e.primary.Name(), "chars", len(text), "error", err)
	}

	if e.fallback == nil {
		return e.fail(pdfPath, primaryErr)
	}

	text, err := e.run(ctx, e.fallback, pdfPath)
	if err != nil {
		return e.fail(pdfPath, errors.Join(primaryErr, err))
	}
	if text == "" {
		return e.fail(pdfPath, primaryErr)
	}

	e.logger.Info("Extracted text from PDF", "path", pdfPath, "backend", e.fallback.Name(), "chars", len(text))
	return Result{Text: text, Backend: e.fallback.Name()}
}

func (e *Extractor) run(ctx context.Context, b Backend, pdfPath string) (string, error) {
	pages, err := b.Pages(ctx, pdfPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.Name(), err)
	}
	return joinPages(pages), nil
}

func (e *Extractor) fail(pdfPath string, cause error) Result {
	err := ErrNoText
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrNoText, cause)
	}
	e.logger.Error("Error extracting text from PDF", "path", pdfPath, "error", err)
	return Result{Err: err}
}

// joinPages concatenates non-blank pages with newline separators.
func joinPages(pages []string) string {
	var b strings.Builder
	for _, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
