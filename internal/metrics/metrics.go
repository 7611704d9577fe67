// Package metrics summarizes a CLI ingestion run.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

// RunReport collects statistics for one batch of ingested documents.
type RunReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Duration   time.Duration     `json:"duration_ms,omitempty"`
	Models     ModelMetrics      `json:"models"`
	Index      IndexMetrics      `json:"index"`
	Totals     TotalMetrics      `json:"totals"`
	Documents  []DocumentMetrics `json:"documents"`
	Errors     []string          `json:"errors,omitempty"`
}

type ModelMetrics struct {
	Embedding  string `json:"embedding"`
	Summarizer string `json:"summarizer"`
	Normalizer string `json:"normalizer"`
}

type IndexMetrics struct {
	SizeBefore int `json:"size_before"`
	SizeAfter  int `json:"size_after"`
	Dimension  int `json:"dimension"`
}

type TotalMetrics struct {
	Documents  int `json:"documents"`
	Indexed    int `json:"indexed"`
	NoText     int `json:"no_text"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Characters int `json:"characters"`
}

type DocumentMetrics struct {
	DocumentID    string        `json:"document_id"`
	JobID         string        `json:"job_id"`
	Duration      time.Duration `json:"duration_ms"`
	State         string        `json:"state"`
	SlotID        int           `json:"slot_id"`
	ContentLength int           `json:"content_length"`
	DuplicateOf   string        `json:"duplicate_of,omitempty"`
	Error         string        `json:"error,omitempty"`
	Warnings      int           `json:"warnings"`
}

// New starts tracking a run over an index of indexSize vectors.
func New(indexSize, dim int) *RunReport {
	return &RunReport{
		StartedAt: time.Now(),
		Index:     IndexMetrics{SizeBefore: indexSize, Dimension: dim},
	}
}

// SetModels records the models the run used. Empty names mean unavailable.
func (m *RunReport) SetModels(embedding, summarizer, normalizer string) {
	m.Models = ModelMetrics{Embedding: embedding, Summarizer: summarizer, Normalizer: normalizer}
}

// Add records one finished ingestion.
func (m *RunReport) Add(res ingest.Result, d time.Duration) {
	m.Documents = append(m.Documents, DocumentMetrics{
		DocumentID:    res.DocumentID,
		JobID:         res.JobID,
		Duration:      d,
		State:         res.State,
		SlotID:        res.SlotID,
		ContentLength: res.ContentLength,
		DuplicateOf:   res.DuplicateOf,
		Error:         res.Error,
		Warnings:      len(res.Warnings),
	})

	m.Totals.Documents++
	m.Totals.Characters += res.ContentLength
	switch {
	case res.Success:
		m.Totals.Indexed++
	case res.Error == ingest.ErrCodeNoText:
		m.Totals.NoText++
	default:
		m.Totals.Failed++
	}
	if res.DuplicateOf != "" {
		m.Totals.Duplicates++
	}
	if res.Error != "" {
		m.Errors = append(m.Errors, fmt.Sprintf("%s: %s", res.DocumentID, res.Error))
	}
}

// Finish marks the run as complete.
func (m *RunReport) Finish(indexSize int) {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.Index.SizeAfter = indexSize
}

// PrintSummary writes a human-readable summary.
func (m *RunReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║         INGESTION RUN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Embedding:   %-23s║\n", orNone(m.Models.Embedding))
	fmt.Fprintf(w, "║ Summarizer:  %-23s║\n", orNone(m.Models.Summarizer))
	fmt.Fprintf(w, "║ Normalizer:  %-23s║\n", orNone(m.Models.Normalizer))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ INDEX (dim %d)\n", m.Index.Dimension)
	fmt.Fprintf(w, "║   Before:      %d\n", m.Index.SizeBefore)
	fmt.Fprintf(w, "║   After:       %d\n", m.Index.SizeAfter)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ DOCUMENTS\n")
	fmt.Fprintf(w, "║   Total:       %d\n", m.Totals.Documents)
	fmt.Fprintf(w, "║   Indexed:     %d\n", m.Totals.Indexed)
	fmt.Fprintf(w, "║   No text:     %d\n", m.Totals.NoText)
	fmt.Fprintf(w, "║   Failed:      %d\n", m.Totals.Failed)
	fmt.Fprintf(w, "║   Duplicates:  %d\n", m.Totals.Duplicates)
	fmt.Fprintf(w, "║   Text size:   %s\n", formatChars(m.Totals.Characters))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	for _, d := range m.Documents {
		status := "OK"
		switch {
		case d.Error != "":
			status = d.Error
		case d.DuplicateOf != "":
			status = "duplicate of " + d.DuplicateOf
		}
		slot := "-"
		if d.SlotID >= 0 {
			slot = fmt.Sprintf("#%d", d.SlotID)
		}
		fmt.Fprintf(w, "║   %-14s %8s  %-5s %s\n", d.DocumentID, d.Duration.Round(time.Millisecond), slot, status)
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (m *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func formatChars(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM chars", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk chars", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d chars", n)
	}
}
