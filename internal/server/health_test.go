package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func probe(t *testing.T, s *HealthServer, path string) (int, HealthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("probe %s: bad response body: %v", path, err)
	}
	return w.Code, resp
}

func TestHealthServer_StartsNotReady(t *testing.T) {
	s := NewHealthServer(nil)

	// Traffic must not arrive before the engine finishes wiring.
	if code, _ := probe(t, s, "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before SetReady = %d, want 503", code)
	}
	if code, _ := probe(t, s, "/live"); code != http.StatusOK {
		t.Errorf("/live at startup = %d, want 200", code)
	}

	s.SetReady(true)
	if code, _ := probe(t, s, "/ready"); code != http.StatusOK {
		t.Errorf("/ready after SetReady = %d, want 200", code)
	}
	s.SetReady(false)
	if code, _ := probe(t, s, "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready during drain = %d, want 503", code)
	}
}

func TestHealthServer_LivenessFlip(t *testing.T) {
	s := NewHealthServer(nil)
	s.SetLive(false)
	if code, _ := probe(t, s, "/live"); code != http.StatusServiceUnavailable {
		t.Errorf("/live after SetLive(false) = %d, want 503", code)
	}
}

func TestHealthServer_AggregatesChecks(t *testing.T) {
	s := NewHealthServer(&HealthConfig{Version: "0.1.0"})
	s.RegisterCheck("collection", CollectionHealthChecker(func() int { return 12 }))
	s.RegisterCheck("llm", LLMHealthChecker("openai", nil))

	code, resp := probe(t, s, "/health")
	if code != http.StatusOK {
		t.Fatalf("/health = %d, want 200", code)
	}
	if resp.Status != HealthStatusHealthy {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
	if resp.Version != "0.1.0" {
		t.Errorf("version = %q, want 0.1.0", resp.Version)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if c.Name == "collection" && c.Details["documents"] != "12" {
			t.Errorf("collection check details = %v, want the document count", c.Details)
		}
	}
}

func TestHealthServer_UnhealthyIndexFailsProbe(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("collection", CollectionHealthChecker(func() int { return 3 }))
	s.RegisterCheck("index", IndexHealthChecker("qdrant", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	code, resp := probe(t, s, "/health")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("/health with dead index = %d, want 503", code)
	}
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("got %d checks, want 2", len(resp.Checks))
	}
}

func TestHealthServer_DegradedProviderStays200(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("llm", LLMHealthChecker("anthropic", func(ctx context.Context) error {
		return errors.New("rate limited")
	}))

	// A flaky model provider must not take the whole engine out of
	// rotation.
	code, resp := probe(t, s, "/health")
	if code != http.StatusOK {
		t.Fatalf("/health with degraded provider = %d, want 200", code)
	}
	if resp.Status != HealthStatusDegraded {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

func TestHealthServer_KubernetesAliases(t *testing.T) {
	s := NewHealthServer(nil)
	s.SetReady(true)

	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		t.Run(path, func(t *testing.T) {
			if code, _ := probe(t, s, path); code != http.StatusOK {
				t.Errorf("%s = %d, want 200", path, code)
			}
		})
	}
}

func TestHealthServer_JSONContentType(t *testing.T) {
	s := NewHealthServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestIndexHealthChecker_NilCheckFn(t *testing.T) {
	check := IndexHealthChecker("memory", nil)(context.Background())
	if check.Status != HealthStatusHealthy {
		t.Errorf("status = %s, want healthy for an unprobed backend", check.Status)
	}
	if check.Details["backend"] != "memory" {
		t.Errorf("details = %v, want the backend name", check.Details)
	}
}

func TestLLMHealthChecker_NoProvider(t *testing.T) {
	// Model-free operation is legal (explicit citations only), so an
	// absent provider degrades rather than fails.
	check := LLMHealthChecker("", nil)(context.Background())
	if check.Status != HealthStatusDegraded {
		t.Errorf("status = %s, want degraded with no provider", check.Status)
	}
	if !strings.Contains(check.Message, "no model provider") {
		t.Errorf("message = %q", check.Message)
	}
}

func TestLLMHealthChecker_Reachable(t *testing.T) {
	check := LLMHealthChecker("openai", func(ctx context.Context) error {
		return nil
	})(context.Background())
	if check.Status != HealthStatusHealthy {
		t.Errorf("status = %s, want healthy", check.Status)
	}
	if check.Details["provider"] != "openai" {
		t.Errorf("details = %v, want the provider name", check.Details)
	}
}
