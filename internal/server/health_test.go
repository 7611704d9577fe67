package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthServer_SetReady(t *testing.T) {
	s := NewHealthServer("")

	if s.ready {
		t.Fatal("expected not ready initially")
	}

	s.SetReady(true)
	if !s.ready {
		t.Fatal("expected ready after SetReady(true)")
	}

	s.SetReady(false)
	if s.ready {
		t.Fatal("expected not ready after SetReady(false)")
	}
}

func TestHealthServer_SetLive(t *testing.T) {
	s := NewHealthServer("")

	if !s.live {
		t.Fatal("expected live initially")
	}

	s.SetLive(false)
	if s.live {
		t.Fatal("expected not live after SetLive(false)")
	}
}

func TestHealthServer_HandleHealth(t *testing.T) {
	s := NewHealthServer("1.0.0")
	s.RegisterCheck("index", func(ctx context.Context) HealthCheck {
		return HealthCheck{Status: HealthStatusHealthy, Message: "all good"}
	})
	s.SetInfo(func() any {
		return map[string]int{"index_size": 3}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Status    HealthStatus   `json:"status"`
		Version   string         `json:"version"`
		Checks    []HealthCheck  `json:"checks"`
		ModelInfo map[string]int `json:"model_info"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %s", resp.Version)
	}
	if len(resp.Checks) != 1 || resp.Checks[0].Name != "index" {
		t.Fatalf("expected the index check, got %+v", resp.Checks)
	}
	if resp.ModelInfo["index_size"] != 3 {
		t.Fatalf("expected model_info.index_size 3, got %v", resp.ModelInfo)
	}
}

func TestHealthServer_HandleHealth_Status(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthStatus
		code   int
		want   HealthStatus
	}{
		{"unhealthy", []HealthStatus{HealthStatusUnhealthy}, http.StatusServiceUnavailable, HealthStatusUnhealthy},
		{"degraded still 200", []HealthStatus{HealthStatusDegraded}, http.StatusOK, HealthStatusDegraded},
		{"one unhealthy wins", []HealthStatus{HealthStatusHealthy, HealthStatusDegraded, HealthStatusUnhealthy}, http.StatusServiceUnavailable, HealthStatusUnhealthy},
		{"no checks", nil, http.StatusOK, HealthStatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthServer("")
			for i, status := range tt.checks {
				status := status
				s.RegisterCheck(string(rune('a'+i)), func(ctx context.Context) HealthCheck {
					return HealthCheck{Status: status}
				})
			}

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, resp.Status)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Fatalf("expected %d checks, got %d", len(tt.checks), len(resp.Checks))
			}
		})
	}
}

func TestHealthServer_Probes(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		ready bool
		live  bool
		code  int
	}{
		{"not ready", "/ready", false, true, http.StatusServiceUnavailable},
		{"ready", "/ready", true, true, http.StatusOK},
		{"live", "/live", false, true, http.StatusOK},
		{"not live", "/live", true, false, http.StatusServiceUnavailable},
		{"healthz alias", "/healthz", true, true, http.StatusOK},
		{"readyz alias", "/readyz", true, true, http.StatusOK},
		{"livez alias", "/livez", true, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthServer("")
			s.SetReady(tt.ready)
			s.SetLive(tt.live)

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestHealthResponse_ContentType(t *testing.T) {
	s := NewHealthServer("")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Fatalf("expected application/json, got %s", contentType)
	}
}

// Test common health checkers

func TestIndexHealthChecker(t *testing.T) {
	healthy := IndexHealthChecker(func() (int, int, int) { return 2, 2, 384 })(context.Background())
	if healthy.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", healthy.Status)
	}
	if healthy.Details["size"] != "2" || healthy.Details["dimension"] != "384" {
		t.Fatalf("unexpected details: %v", healthy.Details)
	}

	skewed := IndexHealthChecker(func() (int, int, int) { return 3, 2, 384 })(context.Background())
	if skewed.Status != HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", skewed.Status)
	}
}

func TestEmbeddingHealthChecker(t *testing.T) {
	ok := EmbeddingHealthChecker("hashing-v1", func() bool { return true })(context.Background())
	if ok.Status != HealthStatusHealthy || ok.Details["model"] != "hashing-v1" {
		t.Fatalf("expected healthy with model detail, got %+v", ok)
	}

	missing := EmbeddingHealthChecker("", func() bool { return false })(context.Background())
	if missing.Status != HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", missing.Status)
	}
}

func TestLedgerHealthChecker(t *testing.T) {
	ok := LedgerHealthChecker(func(ctx context.Context) error { return nil })(context.Background())
	if ok.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", ok.Status)
	}

	down := LedgerHealthChecker(func(ctx context.Context) error {
		return errors.New("database is locked")
	})(context.Background())
	if down.Status != HealthStatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", down.Status)
	}
}

func TestTemporalHealthChecker(t *testing.T) {
	ok := TemporalHealthChecker(func(ctx context.Context) error { return nil })(context.Background())
	if ok.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", ok.Status)
	}

	down := TemporalHealthChecker(func(ctx context.Context) error {
		return errors.New("connection refused")
	})(context.Background())
	if down.Status != HealthStatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", down.Status)
	}
}
