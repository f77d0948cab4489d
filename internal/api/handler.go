package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/embedder/internal/ai"
	"github.com/nidhogg/embedder/internal/embedder"
	"github.com/nidhogg/embedder/internal/store"
)

const maxBodyBytes = 1 << 20

// Service is what the HTTP layer needs from the embedder; *embedder.Service
// implements it.
type Service interface {
	Status() ([]embedder.TableStatus, bool)
	Catalog() []embedder.ModelInfo
	Index(ctx context.Context, table string, req embedder.IndexRequest) (*embedder.IndexResult, error)
	Search(ctx context.Context, table, query string, limit int) ([]store.Match, error)
	DeleteDocument(ctx context.Context, id int) error
	Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/ready", h.readiness)
		r.Get("/models", h.listModels)

		r.Post("/tables/{table}/documents", h.indexDocument)
		r.Post("/tables/{table}/search", h.search)
		r.Delete("/documents/{id}", h.deleteDocument)

		r.Post("/generate", h.generate)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Ready  bool                   `json:"ready"`
	Tables []embedder.TableStatus `json:"tables"`
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	tables, ready := h.svc.Status()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{Ready: ready, Tables: tables})
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog())
}

func (h *Handler) indexDocument(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var req embedder.IndexRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ObjectType == "" {
		req.ObjectType = "document"
	}

	result, err := h.svc.Index(r.Context(), table, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Table   string        `json:"table"`
	Matches []store.Match `json:"matches"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "limit must not be negative"))
		return
	}

	matches, err := h.svc.Search(r.Context(), table, req.Query, req.Limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []store.Match{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Table: table, Matches: matches})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "invalid document id"))
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Prompt       string  `json:"prompt"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	text, err := h.svc.Generate(r.Context(), req.Prompt, ai.GenerateOptions{
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(r, err.Error()))
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ai.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, embedder.ErrUnknownTable), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedder.ErrTableNotReady), errors.Is(err, embedder.ErrNoGenerator):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrBackendFailed), errors.Is(err, ai.ErrDimensionMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody(r, err.Error()))
}

func errorBody(r *http.Request, msg string) map[string]string {
	body := map[string]string{"error": msg}
	if id := middleware.GetReqID(r.Context()); id != "" {
		body["request_id"] = id
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
