package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/docintel/internal/llm"
)

func TestEmbed_OrdersByIndex(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer server.Close()

	c := NewNamed("tei", "", "", server.URL, "all-MiniLM-L6-v2")
	vecs, err := c.Embed(context.Background(), []string{"primero", "segundo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
	if gotAuth != "" {
		t.Errorf("no Authorization header expected without a key, got %q", gotAuth)
	}
	if gotBody["model"] != "all-MiniLM-L6-v2" {
		t.Errorf("unexpected model %v", gotBody["model"])
	}
	if c.Name() != "tei" {
		t.Errorf("expected name tei, got %s", c.Name())
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	_, err := New("", "", server.URL, "").Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "expected 1 vectors") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestComplete_SendsSystemPromptAndOptions(t *testing.T) {
	var gotBody struct {
		Messages    []llm.Message `json:"messages"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature"`
	}
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"resumen"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`))
	}))
	defer server.Close()

	c := New("sk-test", "m", server.URL, "")
	resp, err := c.Complete(context.Background(), llm.NewPrompt("Resume.", "texto"), &llm.RequestOptions{
		MaxTokens:   llm.Int(150),
		Temperature: llm.Float(0.2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "resumen" || resp.StopReason != "stop" || resp.InputTokens != 7 {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != llm.RoleSystem {
		t.Errorf("system prompt should lead the messages: %+v", gotBody.Messages)
	}
	if gotBody.MaxTokens != 150 || gotBody.Temperature != 0.2 {
		t.Errorf("options not applied: %+v", gotBody)
	}
}

func TestComplete_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	_, err := New("", "m", server.URL, "").Complete(context.Background(), llm.NewPrompt("", "x"), nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
	if !llm.IsRetryable(err) {
		t.Error("503 responses should be retryable")
	}
}
