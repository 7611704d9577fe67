package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

func TestRunReport_Totals(t *testing.T) {
	r := New(3, 384)
	r.SetModels("hashing-v1", "", "es-rules")

	r.Add(ingest.Result{DocumentID: "a", Success: true, State: ingest.StateReported, SlotID: 3, ContentLength: 1500}, time.Second)
	r.Add(ingest.Result{DocumentID: "b", Success: true, State: ingest.StateIndexed, SlotID: 4, ContentLength: 800, DuplicateOf: "job-a"}, time.Second)
	r.Add(ingest.Result{DocumentID: "c", State: ingest.StateFailed, SlotID: -1, Error: ingest.ErrCodeNoText}, time.Millisecond)
	r.Add(ingest.Result{DocumentID: "d", State: ingest.StateFailed, SlotID: -1, Error: ingest.ErrCodeEmbedding, Warnings: []string{"x"}}, time.Millisecond)
	r.Finish(5)

	assert.Equal(t, TotalMetrics{Documents: 4, Indexed: 2, NoText: 1, Failed: 1, Duplicates: 1, Characters: 2300}, r.Totals)
	assert.Equal(t, IndexMetrics{SizeBefore: 3, SizeAfter: 5, Dimension: 384}, r.Index)
	assert.Equal(t, []string{"c: NoTextExtracted", "d: EmbeddingFailed"}, r.Errors)
	assert.Equal(t, 1, r.Documents[3].Warnings)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
}

func TestRunReport_PrintSummary(t *testing.T) {
	r := New(0, 384)
	r.SetModels("hashing-v1", "frequency-v1", "")
	r.Add(ingest.Result{DocumentID: "tesis-1", Success: true, SlotID: 0, ContentLength: 2048}, 40*time.Millisecond)
	r.Add(ingest.Result{DocumentID: "tesis-2", SlotID: -1, Error: ingest.ErrCodeNoText}, time.Millisecond)
	r.Finish(1)

	var buf bytes.Buffer
	r.PrintSummary(&buf)
	out := buf.String()

	assert.Contains(t, out, "INGESTION RUN REPORT")
	assert.Contains(t, out, "hashing-v1")
	assert.Contains(t, out, "Normalizer:  none")
	assert.Contains(t, out, "#0")
	assert.Contains(t, out, "2.0k chars")
	assert.Contains(t, out, "• tesis-2: NoTextExtracted")
}

func TestRunReport_JSON(t *testing.T) {
	r := New(0, 384)
	r.Add(ingest.Result{DocumentID: "x", Success: true, SlotID: 0}, 0)
	r.Finish(1)

	data, err := r.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "documents")
	assert.Contains(t, decoded, "totals")
	assert.NotContains(t, decoded, "errors")
}
