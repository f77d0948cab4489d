// Package embedder indexes and searches text through the configured
// embedding models and their vector tables.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/embedder/internal/ai"
	"github.com/nidhogg/embedder/internal/cache"
	"github.com/nidhogg/embedder/internal/store"
)

var (
	ErrUnknownTable  = errors.New("unknown embeddings table")
	ErrTableNotReady = errors.New("embeddings table not ready")
	ErrNoGenerator   = errors.New("no generation model configured")
)

// Repository is the persistence the service needs; *store.Store implements it.
type Repository interface {
	CreateMetadata(ctx context.Context, m *store.Metadata) error
	DeleteMetadata(ctx context.Context, id int) error
	InsertEmbeddings(ctx context.Context, table string, metadataID int, texts []string, vectors [][]float32) error
	SearchSimilar(ctx context.Context, table string, vector []float32, limit int) ([]store.Match, error)
}

// Service ties the model manager to storage, cache and readiness tracking.
type Service struct {
	models  *ai.Manager
	repo    Repository
	cache   *cache.Cache
	tracker *Tracker
	logger  *zap.Logger
}

// New creates a Service. c may be nil to run without a cache.
func New(models *ai.Manager, repo Repository, c *cache.Cache, logger *zap.Logger) *Service {
	var tables []string
	for _, m := range models.EmbeddingModels() {
		tables = append(tables, m.TableName())
	}
	return &Service{
		models:  models,
		repo:    repo,
		cache:   c,
		tracker: NewTracker(tables),
		logger:  logger,
	}
}

// Provision creates missing tables and records per-table readiness.
// The returned error is the combined provisioning error, if any.
func (s *Service) Provision(ctx context.Context, conn ai.Conn) error {
	err := s.models.MaybeCreateTables(ctx, conn)
	s.tracker.Record(err)
	if err != nil {
		s.logger.Error("provisioning failed", zap.Error(err))
		return err
	}
	s.logger.Info("embeddings tables ready")
	return nil
}

// Status returns per-table readiness and whether every table is ready.
func (s *Service) Status() ([]TableStatus, bool) {
	return s.tracker.Snapshot()
}

// ModelInfo describes one configured model.
type ModelInfo struct {
	Kind           ai.ModelKind   `json:"kind"`
	Backend        ai.BackendType `json:"backend"`
	Model          string         `json:"model"`
	Table          string         `json:"table,omitempty"`
	Dimensions     int            `json:"dimensions,omitempty"`
	MaxInputTokens int            `json:"max_input_tokens,omitempty"`
}

// Catalog lists the embedding models followed by the generation models.
func (s *Service) Catalog() []ModelInfo {
	var out []ModelInfo
	for _, m := range s.models.EmbeddingModels() {
		out = append(out, ModelInfo{
			Kind:           ai.KindEmbedding,
			Backend:        m.Backend(),
			Model:          m.ModelName(),
			Table:          m.TableName(),
			Dimensions:     m.Dimensions(),
			MaxInputTokens: m.MaxInputTokens(),
		})
	}
	for _, m := range s.models.GenerationModels() {
		out = append(out, ModelInfo{Kind: ai.KindGeneration, Backend: m.Backend(), Model: m.ModelName()})
	}
	return out
}

// IndexRequest describes a document to embed.
type IndexRequest struct {
	ObjectType string `json:"object_type"`
	RefID      string `json:"ref_id"`
	TeamID     string `json:"team_id"`
	Text       string `json:"text"`
}

// IndexResult reports what Index stored.
type IndexResult struct {
	MetadataID int    `json:"metadata_id"`
	RefID      string `json:"ref_id"`
	Chunks     int    `json:"chunks"`
}

func (s *Service) readyModel(table string) (ai.EmbeddingModel, error) {
	model, ok := s.models.EmbeddingModelByTable(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if !s.tracker.IsReady(table) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotReady, table)
	}
	return model, nil
}

// Index chunks req.Text to fit the model input window, embeds each chunk and
// stores the vectors under a new metadata row.
func (s *Service) Index(ctx context.Context, table string, req IndexRequest) (*IndexResult, error) {
	model, err := s.readyModel(table)
	if err != nil {
		return nil, err
	}
	chunks := ai.SplitText(req.Text, model.MaxInputTokens())
	if len(chunks) == 0 {
		return nil, ai.ErrEmptyInput
	}
	if req.RefID == "" {
		req.RefID = uuid.NewString()
	}

	vectors, err := s.embed(ctx, model, chunks)
	if err != nil {
		return nil, err
	}

	meta := &store.Metadata{
		ObjectType: req.ObjectType,
		RefID:      req.RefID,
		TeamID:     req.TeamID,
		FullText:   req.Text,
	}
	if err := s.repo.CreateMetadata(ctx, meta); err != nil {
		return nil, err
	}
	if err := s.repo.InsertEmbeddings(ctx, table, meta.ID, chunks, vectors); err != nil {
		if delErr := s.repo.DeleteMetadata(ctx, meta.ID); delErr != nil {
			s.logger.Warn("failed to remove orphaned metadata", zap.Int("id", meta.ID), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Debug("indexed document",
		zap.String("table", table),
		zap.Int("metadata_id", meta.ID),
		zap.Int("chunks", len(chunks)))
	return &IndexResult{MetadataID: meta.ID, RefID: req.RefID, Chunks: len(chunks)}, nil
}

// Search embeds query and returns the nearest stored chunks in table.
func (s *Service) Search(ctx context.Context, table, query string, limit int) ([]store.Match, error) {
	model, err := s.readyModel(table)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, ai.ErrEmptyInput
	}
	vectors, err := s.embed(ctx, model, []string{query})
	if err != nil {
		return nil, err
	}
	return s.repo.SearchSimilar(ctx, table, vectors[0], limit)
}

// DeleteDocument removes a metadata row and, by cascade, its vectors.
func (s *Service) DeleteDocument(ctx context.Context, id int) error {
	return s.repo.DeleteMetadata(ctx, id)
}

// Generate runs prompt through the first configured generation model.
func (s *Service) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	gens := s.models.GenerationModels()
	if len(gens) == 0 {
		return "", ErrNoGenerator
	}
	return gens[0].Generate(ctx, prompt, opts)
}

// embed serves what it can from the cache and sends the rest to the model.
func (s *Service) embed(ctx context.Context, model ai.EmbeddingModel, texts []string) ([][]float32, error) {
	table := model.TableName()
	vectors := s.cache.GetMany(ctx, table, texts)

	var missIdx []int
	var missTexts []string
	for i, v := range vectors {
		if v == nil || len(v) != model.Dimensions() {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := model.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vectors[i] = fresh[j]
	}
	s.cache.SetMany(ctx, table, missTexts, fresh)
	return vectors, nil
}
