package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Engine is the surface the API exposes over HTTP. The CLI's engine
// satisfies it.
type Engine interface {
	// AddDocument ingests one document. added is false when the
	// collection already holds identical content.
	AddDocument(ctx context.Context, r io.Reader, source string) (docname string, added bool, err error)
	// Ask runs evidence gathering and answer synthesis for a question.
	Ask(ctx context.Context, question string) (*AskResult, error)
	// ListDocuments returns the live documents.
	ListDocuments() []DocumentInfo
	// DeleteDocument removes a document by docname. Unknown names are
	// a no-op.
	DeleteDocument(docname string)
}

// DocumentInfo is one document in a listing.
type DocumentInfo struct {
	Docname  string `json:"docname"`
	Dockey   string `json:"dockey"`
	Citation string `json:"citation"`
}

// AskResult is the outcome of one question.
type AskResult struct {
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	References []ReferenceInfo   `json:"references,omitempty"`
	Contexts   []ContextInfo     `json:"contexts,omitempty"`
	Tokens     map[string][2]int `json:"tokens,omitempty"`
}

// ReferenceInfo is one bibliography entry of an answer.
type ReferenceInfo struct {
	Key      string `json:"key"`
	Citation string `json:"citation"`
}

// ContextInfo is one piece of evidence behind an answer.
type ContextInfo struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// API serves the document and question endpoints.
type API struct {
	engine Engine
	logger *slog.Logger
	// RequestTimeout bounds each request (default 5m; asks can chain
	// several LLM calls).
	RequestTimeout time.Duration
}

// NewAPI creates an API around an engine.
func NewAPI(engine Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		engine:         engine,
		logger:         logger,
		RequestTimeout: 5 * time.Minute,
	}
}

// Handler returns the API routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/documents", a.handleAddDocument)
	mux.HandleFunc("GET /v1/documents", a.handleListDocuments)
	mux.HandleFunc("DELETE /v1/documents/{docname}", a.handleDeleteDocument)
	mux.HandleFunc("POST /v1/ask", a.handleAsk)
	return mux
}

type addDocumentResponse struct {
	Docname string `json:"docname"`
	Added   bool   `json:"added"`
}

func (a *API) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.RequestTimeout)
	defer cancel()

	source := r.URL.Query().Get("name")
	if source == "" {
		a.writeError(w, http.StatusBadRequest, "missing 'name' query parameter")
		return
	}

	docname, added, err := a.engine.AddDocument(ctx, r.Body, source)
	if err != nil {
		a.logger.Error("ingest failed", "source", source, "error", err)
		a.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := http.StatusCreated
	if !added {
		// Identical content is already present.
		status = http.StatusOK
	}
	a.writeJSON(w, status, addDocumentResponse{Docname: docname, Added: added})
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	infos := a.engine.ListDocuments()
	if infos == nil {
		infos = []DocumentInfo{}
	}
	a.writeJSON(w, http.StatusOK, infos)
}

func (a *API) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docname := r.PathValue("docname")
	if docname == "" {
		a.writeError(w, http.StatusBadRequest, "missing docname")
		return
	}
	a.engine.DeleteDocument(docname)
	w.WriteHeader(http.StatusNoContent)
}

type askRequest struct {
	Question string `json:"question"`
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.RequestTimeout)
	defer cancel()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		a.writeError(w, http.StatusBadRequest, "missing 'question'")
		return
	}

	result, err := a.engine.Ask(ctx, req.Question)
	if err != nil {
		a.logger.Error("ask failed", "question", req.Question, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		a.writeError(w, status, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
