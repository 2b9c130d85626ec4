package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// stubEngine scripts API behavior for handler tests.
type stubEngine struct {
	addDocname string
	addAdded   bool
	addErr     error
	addedBody  string

	askResult *AskResult
	askErr    error

	docs    []DocumentInfo
	deleted []string
}

func (s *stubEngine) AddDocument(ctx context.Context, r io.Reader, source string) (string, bool, error) {
	data, _ := io.ReadAll(r)
	s.addedBody = string(data)
	return s.addDocname, s.addAdded, s.addErr
}

func (s *stubEngine) Ask(ctx context.Context, question string) (*AskResult, error) {
	if s.askErr != nil {
		return nil, s.askErr
	}
	return s.askResult, nil
}

func (s *stubEngine) ListDocuments() []DocumentInfo {
	return s.docs
}

func (s *stubEngine) DeleteDocument(docname string) {
	s.deleted = append(s.deleted, docname)
}

func TestAPI_AddDocument(t *testing.T) {
	eng := &stubEngine{addDocname: "Smith2020", addAdded: true}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/documents?name=paper.txt", "text/plain",
		strings.NewReader("document body"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out addDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Docname != "Smith2020" {
		t.Fatalf("expected Smith2020, got %s", out.Docname)
	}
	if !out.Added {
		t.Fatal("expected added=true")
	}
	if eng.addedBody != "document body" {
		t.Fatalf("expected body to reach the engine, got %q", eng.addedBody)
	}
}

func TestAPI_AddDocument_Duplicate(t *testing.T) {
	eng := &stubEngine{addDocname: "", addAdded: false}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/documents?name=paper.txt", "text/plain",
		strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", resp.StatusCode)
	}
	var out addDocumentResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Added {
		t.Fatal("expected added=false")
	}
}

func TestAPI_AddDocument_MissingName(t *testing.T) {
	api := NewAPI(&stubEngine{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/documents", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPI_AddDocument_IngestError(t *testing.T) {
	eng := &stubEngine{addErr: errors.New("empty document")}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/documents?name=empty.txt", "text/plain",
		strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestAPI_ListDocuments(t *testing.T) {
	eng := &stubEngine{docs: []DocumentInfo{
		{Docname: "Jones2019", Dockey: "abc", Citation: "Jones, 2019."},
		{Docname: "Smith2020", Dockey: "def", Citation: "Smith, 2020."},
	}}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/documents")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var out []DocumentInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(out))
	}
	if out[0].Docname != "Jones2019" {
		t.Fatalf("expected Jones2019 first, got %s", out[0].Docname)
	}
}

func TestAPI_ListDocuments_Empty(t *testing.T) {
	api := NewAPI(&stubEngine{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/documents")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", body)
	}
}

func TestAPI_DeleteDocument(t *testing.T) {
	eng := &stubEngine{}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/documents/Smith2020", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(eng.deleted) != 1 || eng.deleted[0] != "Smith2020" {
		t.Fatalf("expected delete of Smith2020, got %v", eng.deleted)
	}
}

func TestAPI_Ask(t *testing.T) {
	eng := &stubEngine{askResult: &AskResult{
		Question: "what is X?",
		Answer:   "X is Y (Smith2020 chunk 1).",
		References: []ReferenceInfo{
			{Key: "Smith2020 chunk 1", Citation: "Smith, 2020."},
		},
		Contexts: []ContextInfo{
			{ID: "Smith2020 chunk 1", Score: 9, Summary: "X is Y."},
		},
	}}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ask", "application/json",
		strings.NewReader(`{"question": "what is X?"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out AskResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Answer != "X is Y (Smith2020 chunk 1)." {
		t.Fatalf("unexpected answer: %s", out.Answer)
	}
	if len(out.References) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(out.References))
	}
}

func TestAPI_Ask_MissingQuestion(t *testing.T) {
	api := NewAPI(&stubEngine{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ask", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPI_Ask_BadJSON(t *testing.T) {
	api := NewAPI(&stubEngine{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ask", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPI_Ask_EngineError(t *testing.T) {
	eng := &stubEngine{askErr: errors.New("provider unavailable")}
	api := NewAPI(eng, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ask", "application/json",
		strings.NewReader(`{"question": "what is X?"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
