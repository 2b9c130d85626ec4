// Package server exposes the document collection over HTTP: ingest,
// listing, deletion, and question answering, plus health probes and
// graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the reported state of a component or of the engine
// as a whole.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is one component's result within a health response.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body served by the probe endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer aggregates component checks behind the standard probe
// endpoints. Readiness starts false so a load balancer sends no
// traffic until the engine flips it after startup.
type HealthServer struct {
	mu           sync.RWMutex
	checks       map[string]HealthChecker
	version      string
	ready        bool
	live         bool
	shutdownChan chan struct{}
}

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
	// Addr for the standalone listener (default ":8080").
	Addr string
}

// NewHealthServer creates a health server. Not ready until SetReady.
func NewHealthServer(config *HealthConfig) *HealthServer {
	version := ""
	if config != nil {
		version = config.Version
	}
	return &HealthServer{
		checks:       make(map[string]HealthChecker),
		version:      version,
		live:         true,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterCheck adds a named component check, replacing any previous
// check of the same name.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady flips the readiness probe.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive flips the liveness probe.
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler serves the probe endpoints, with z-suffixed aliases for
// kubernetes probe conventions.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.flagProbe(func() bool { return s.ready }))
	mux.HandleFunc("/readyz", s.flagProbe(func() bool { return s.ready }))
	mux.HandleFunc("/live", s.flagProbe(func() bool { return s.live }))
	mux.HandleFunc("/livez", s.flagProbe(func() bool { return s.live }))
	return mux
}

// ListenAndServe runs the probes on their own listener, for
// deployments where the API port is not reachable by the prober.
func (s *HealthServer) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		<-s.shutdownChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()
	return srv.ListenAndServe()
}

// Shutdown stops the standalone listener.
func (s *HealthServer) Shutdown() {
	close(s.shutdownChan)
}

// handleHealth runs every registered check and aggregates: any
// unhealthy component makes the whole response unhealthy (503), any
// degraded one degrades it (still 200).
func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	version := s.version
	s.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}
	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		switch {
		case check.Status == HealthStatusUnhealthy:
			response.Status = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy:
			response.Status = HealthStatusDegraded
		}
	}

	code := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// flagProbe serves a binary probe from one of the server's flags.
func (s *HealthServer) flagProbe(flag func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ok := flag()
		s.mu.RUnlock()

		response := HealthResponse{
			Status:    HealthStatusHealthy,
			Timestamp: time.Now().UTC(),
		}
		code := http.StatusOK
		if !ok {
			response.Status = HealthStatusUnhealthy
			code = http.StatusServiceUnavailable
		}
		s.writeJSON(w, code, response)
	}
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// CollectionHealthChecker reports the collection's document count.
// An in-memory collection is always reachable, so this check never
// fails; it exists to surface the count to operators.
func CollectionHealthChecker(docCount func() int) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "collection reachable",
			Details: map[string]string{
				"documents": fmt.Sprintf("%d", docCount()),
			},
		}
	}
}

// IndexHealthChecker probes the semantic index backend. Unreachable
// qdrant means retrieval cannot work, so failure is unhealthy.
func IndexHealthChecker(backend string, checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"backend": backend}
		if checkFn == nil {
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "index configured",
				Details: details,
			}
		}
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "index unreachable: " + err.Error(),
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "index reachable",
			Details: details,
		}
	}
}

// LLMHealthChecker probes the model provider. A failing provider
// degrades the engine rather than killing it: ingestion with explicit
// citations still works without a model.
func LLMHealthChecker(providerName string, checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"provider": providerName}
		if providerName == "" {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "no model provider configured",
			}
		}
		if checkFn == nil {
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "provider configured",
				Details: details,
			}
		}
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "provider degraded: " + err.Error(),
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "provider reachable",
			Details: details,
		}
	}
}
