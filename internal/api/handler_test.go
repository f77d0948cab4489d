package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/embedder/internal/ai"
	"github.com/nidhogg/embedder/internal/embedder"
	"github.com/nidhogg/embedder/internal/store"
)

// fakeService serves one ready table "Embeddings_ready" and one pending
// table "Embeddings_pending".
type fakeService struct {
	indexed   []embedder.IndexRequest
	deleted   []int
	lastLimit int
	generator bool
	backend   bool
}

func (f *fakeService) Status() ([]embedder.TableStatus, bool) {
	return []embedder.TableStatus{
		{Table: "Embeddings_pending", Error: "permission denied"},
		{Table: "Embeddings_ready", Ready: true},
	}, false
}

func (f *fakeService) Catalog() []embedder.ModelInfo {
	return []embedder.ModelInfo{
		{Kind: ai.KindEmbedding, Backend: ai.BackendOllama, Model: "nomic-embed-text", Table: "Embeddings_ready", Dimensions: 768},
		{Kind: ai.KindGeneration, Backend: ai.BackendTextGenerationInference, Model: "mistral"},
	}
}

func (f *fakeService) check(table string) error {
	switch table {
	case "Embeddings_ready":
		if f.backend {
			return fmt.Errorf("embed: %w: status 500", ai.ErrBackendFailed)
		}
		return nil
	case "Embeddings_pending":
		return fmt.Errorf("%w: %s", embedder.ErrTableNotReady, table)
	default:
		return fmt.Errorf("%w: %s", embedder.ErrUnknownTable, table)
	}
}

func (f *fakeService) Index(_ context.Context, table string, req embedder.IndexRequest) (*embedder.IndexResult, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ai.ErrEmptyInput
	}
	f.indexed = append(f.indexed, req)
	return &embedder.IndexResult{MetadataID: len(f.indexed), RefID: "ref", Chunks: 1}, nil
}

func (f *fakeService) Search(_ context.Context, table, query string, limit int) ([]store.Match, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	f.lastLimit = limit
	if query == "none" {
		return nil, nil
	}
	return []store.Match{{ID: 1, MetadataID: 1, Text: "hello world", Similarity: 0.9}}, nil
}

func (f *fakeService) DeleteDocument(_ context.Context, id int) error {
	if id != 1 {
		return store.ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) Generate(_ context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	if !f.generator {
		return "", embedder.ErrNoGenerator
	}
	return fmt.Sprintf("%s/%d", prompt, opts.MaxNewTokens), nil
}

func newTestServer(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	svc := &fakeService{generator: true}
	ts := httptest.NewServer(NewHandler(svc, zap.NewNop()).Router())
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestReadiness(t *testing.T) {
	_, ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var body readyResponse
	decodeJSON(t, resp, &body)
	if body.Ready {
		t.Error("expected ready=false")
	}
	if len(body.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(body.Tables))
	}
	if body.Tables[0].Error != "permission denied" {
		t.Errorf("expected pending table error, got %q", body.Tables[0].Error)
	}
}

func TestListModels(t *testing.T) {
	_, ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/models")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var models []embedder.ModelInfo
	decodeJSON(t, resp, &models)
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Table != "Embeddings_ready" || models[0].Dimensions != 768 {
		t.Errorf("unexpected embedding model: %+v", models[0])
	}
}

func TestIndexDocument(t *testing.T) {
	svc, ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/tables/Embeddings_ready/documents", map[string]string{
		"text":   "hello world",
		"ref_id": "doc-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var result embedder.IndexResult
	decodeJSON(t, resp, &result)
	if result.MetadataID != 1 || result.Chunks != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(svc.indexed) != 1 || svc.indexed[0].ObjectType != "document" || svc.indexed[0].RefID != "doc-1" {
		t.Errorf("unexpected indexed request: %+v", svc.indexed)
	}
}

func TestIndexDocument_Errors(t *testing.T) {
	svc, ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"unknown table", "/api/tables/Embeddings_nope/documents", map[string]string{"text": "x"}, http.StatusNotFound},
		{"not ready", "/api/tables/Embeddings_pending/documents", map[string]string{"text": "x"}, http.StatusServiceUnavailable},
		{"empty text", "/api/tables/Embeddings_ready/documents", map[string]string{"text": " "}, http.StatusBadRequest},
		{"bad body", "/api/tables/Embeddings_ready/documents", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body map[string]string
			decodeJSON(t, resp, &body)
			if body["error"] == "" {
				t.Error("expected error message")
			}
			if body["request_id"] == "" {
				t.Error("expected request id")
			}
		})
	}

	svc.backend = true
	resp := postJSON(t, ts, "/api/tables/Embeddings_ready/documents", map[string]string{"text": "x"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("backend failure: expected 502, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSearch(t *testing.T) {
	svc, ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/tables/Embeddings_ready/search", map[string]interface{}{
		"query": "hello",
		"limit": 5,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body searchResponse
	decodeJSON(t, resp, &body)
	if len(body.Matches) != 1 || body.Matches[0].Text != "hello world" {
		t.Errorf("unexpected matches: %+v", body.Matches)
	}
	if svc.lastLimit != 5 {
		t.Errorf("expected limit 5, got %d", svc.lastLimit)
	}

	resp = postJSON(t, ts, "/api/tables/Embeddings_ready/search", map[string]interface{}{"query": "none"})
	var empty map[string]json.RawMessage
	decodeJSON(t, resp, &empty)
	if string(empty["matches"]) != "[]" {
		t.Errorf("expected empty matches array, got %s", empty["matches"])
	}

	resp = postJSON(t, ts, "/api/tables/Embeddings_ready/search", map[string]interface{}{"query": "x", "limit": -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative limit: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteDocument(t *testing.T) {
	svc, ts := newTestServer(t)

	resp := deleteReq(t, ts, "/api/documents/1")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if len(svc.deleted) != 1 {
		t.Errorf("expected one delete, got %v", svc.deleted)
	}

	resp = deleteReq(t, ts, "/api/documents/2")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/documents/abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerate(t *testing.T) {
	svc, ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/generate", map[string]interface{}{"prompt": "hi", "max_new_tokens": 16})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["text"] != "hi/16" {
		t.Errorf("expected hi/16, got %q", body["text"])
	}

	svc.generator = false
	resp = postJSON(t, ts, "/api/generate", map[string]string{"prompt": "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("no generator: expected 503, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
