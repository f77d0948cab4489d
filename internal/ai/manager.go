package ai

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Manager is the fixed set of embedding and generation models for the
// process. It is immutable once NewManager returns and safe for concurrent use.
type Manager struct {
	embedding  []EmbeddingModel
	generation []GenerationModel
	byTable    map[string]EmbeddingModel

	client           HTTPDoer
	logger           *zap.Logger
	statementTimeout time.Duration
	maxRetries       uint64
	retryInterval    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used during provisioning.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithHTTPClient sets the client adapters use to reach inference backends.
func WithHTTPClient(client HTTPDoer) Option {
	return func(m *Manager) { m.client = client }
}

// WithStatementTimeout bounds every catalog and DDL statement issued by MaybeCreateTables.
func WithStatementTimeout(d time.Duration) Option {
	return func(m *Manager) { m.statementTimeout = d }
}

// WithRetry sets how many times a timed-out provisioning statement is retried
// and the initial backoff between attempts.
func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.retryInterval = interval
	}
}

// NewManager validates cfg and builds one adapter per configured model.
// Any error aborts construction; no partially built Manager is returned.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		logger:           zap.NewNop(),
		statementTimeout: 30 * time.Second,
		maxRetries:       3,
		retryInterval:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: defaultTimeout}
	}

	m.embedding = make([]EmbeddingModel, 0, len(cfg.EmbeddingModels))
	m.byTable = make(map[string]EmbeddingModel, len(cfg.EmbeddingModels))
	for _, mc := range cfg.EmbeddingModels {
		model, err := newEmbeddingModel(mc, m.client)
		if err != nil {
			return nil, err
		}
		table := model.TableName()
		if prev, dup := m.byTable[table]; dup {
			return nil, newConfigError("duplicate embedding table %s for models %s and %s", table, prev.ModelName(), model.ModelName())
		}
		m.byTable[table] = model
		m.embedding = append(m.embedding, model)
	}

	m.generation = make([]GenerationModel, 0, len(cfg.GenerationModels))
	for _, mc := range cfg.GenerationModels {
		model, err := newGenerationModel(mc, m.client)
		if err != nil {
			return nil, err
		}
		m.generation = append(m.generation, model)
	}
	return m, nil
}

func validateConfig(cfg ManagerConfig) error {
	if cfg.EmbeddingModels == nil {
		return newConfigError("embedding_models missing or not a list")
	}
	if cfg.GenerationModels == nil {
		return newConfigError("summarization_models missing or not a list")
	}
	return nil
}

func newEmbeddingModel(cfg ModelConfig, client HTTPDoer) (EmbeddingModel, error) {
	backend, _ := cfg.Backend()
	var (
		model EmbeddingModel
		err   error
	)
	switch backend {
	case BackendTextEmbeddingsInference:
		var m *TextEmbeddingsInference
		if m, err = newTextEmbeddingsInference(cfg, client); err == nil {
			model = m
		}
	case BackendOpenAI:
		var m *OpenAIEmbeddings
		if m, err = newOpenAIEmbeddings(cfg, client); err == nil {
			model = m
		}
	case BackendOllama:
		var m *OllamaEmbeddings
		if m, err = newOllamaEmbeddings(cfg, client); err == nil {
			model = m
		}
	default:
		return nil, &UnsupportedBackendError{Kind: KindEmbedding, Backend: string(backend)}
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

func newGenerationModel(cfg ModelConfig, client HTTPDoer) (GenerationModel, error) {
	backend, _ := cfg.Backend()
	var (
		model GenerationModel
		err   error
	)
	switch backend {
	case BackendTextGenerationInference:
		var m *TextGenerationInference
		if m, err = newTextGenerationInference(cfg, client); err == nil {
			model = m
		}
	case BackendOpenAI:
		var m *OpenAIChat
		if m, err = newOpenAIChat(cfg, client); err == nil {
			model = m
		}
	default:
		return nil, &UnsupportedBackendError{Kind: KindGeneration, Backend: string(backend)}
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// EmbeddingModels returns the embedding models in configuration order.
func (m *Manager) EmbeddingModels() []EmbeddingModel {
	out := make([]EmbeddingModel, len(m.embedding))
	copy(out, m.embedding)
	return out
}

// GenerationModels returns the generation models in configuration order.
func (m *Manager) GenerationModels() []GenerationModel {
	out := make([]GenerationModel, len(m.generation))
	copy(out, m.generation)
	return out
}

// EmbeddingModelByTable returns the model whose vectors live in table.
func (m *Manager) EmbeddingModelByTable(table string) (EmbeddingModel, bool) {
	model, ok := m.byTable[table]
	return model, ok
}
