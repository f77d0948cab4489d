package ai

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// BackendType is the tag before the first ':' of a model identifier.
type BackendType string

const (
	BackendTextEmbeddingsInference BackendType = "text-embeddings-inference"
	BackendTextGenerationInference BackendType = "text-generation-inference"
	BackendOpenAI                  BackendType = "openai"
	BackendOllama                  BackendType = "ollama"
)

// EmbeddingModel maps text to fixed-width vectors and declares the table
// its vectors are stored in.
type EmbeddingModel interface {
	Backend() BackendType
	ModelName() string
	TableName() string
	Dimensions() int
	MaxInputTokens() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationModel produces text from a prompt.
type GenerationModel interface {
	Backend() BackendType
	ModelName() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions tunes a single generation call. Zero values use the model defaults.
type GenerateOptions struct {
	MaxNewTokens int
	Temperature  float64
}

// ModelParams are the fixed properties of an embedding model.
type ModelParams struct {
	EmbeddingDimensions int
	MaxInputTokens      int
}

// knownModels covers the models we ship configs for. Anything else needs
// embeddingDimensions in its config.
var knownModels = map[string]ModelParams{
	"llmrails/ember-v1":                      {EmbeddingDimensions: 1024, MaxInputTokens: 512},
	"BAAI/bge-large-en-v1.5":                 {EmbeddingDimensions: 1024, MaxInputTokens: 512},
	"BAAI/bge-base-en-v1.5":                  {EmbeddingDimensions: 768, MaxInputTokens: 512},
	"BAAI/bge-small-en-v1.5":                 {EmbeddingDimensions: 384, MaxInputTokens: 512},
	"sentence-transformers/all-MiniLM-L6-v2": {EmbeddingDimensions: 384, MaxInputTokens: 256},
	"nomic-embed-text":                       {EmbeddingDimensions: 768, MaxInputTokens: 8192},
	"mxbai-embed-large":                      {EmbeddingDimensions: 1024, MaxInputTokens: 512},
	"text-embedding-3-small":                 {EmbeddingDimensions: 1536, MaxInputTokens: 8191},
	"text-embedding-ada-002":                 {EmbeddingDimensions: 1536, MaxInputTokens: 8191},
}

const (
	tablePrefix           = "Embeddings_"
	defaultMaxInputTokens = 512
	defaultTimeout        = 120 * time.Second
	maxIdentifierLen      = 63

	// hnsw indexes on the vector type are limited to 2000 dimensions.
	maxVectorDimensions = 2000
)

var (
	identifierRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	nonIdentRuneRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// embeddingBase holds what every embedding adapter shares.
type embeddingBase struct {
	backend BackendType
	model   string
	url     string
	apiKey  string
	table   string
	params  ModelParams
}

func (b *embeddingBase) Backend() BackendType { return b.backend }
func (b *embeddingBase) ModelName() string    { return b.model }
func (b *embeddingBase) TableName() string    { return b.table }
func (b *embeddingBase) Dimensions() int      { return b.params.EmbeddingDimensions }
func (b *embeddingBase) MaxInputTokens() int  { return b.params.MaxInputTokens }

func newEmbeddingBase(cfg ModelConfig, requireURL bool) (*embeddingBase, error) {
	backend, name := cfg.Backend()
	if name == "" {
		return nil, newConfigError("model %q has no model name after the backend type", cfg.Model)
	}
	if requireURL && cfg.URL == "" {
		return nil, newConfigError("url is required for %s", backend)
	}

	params, known := knownModels[name]
	dims, ok, err := cfg.positiveIntParam("embeddingDimensions")
	if err != nil {
		return nil, err
	}
	if ok {
		params.EmbeddingDimensions = dims
	} else if !known {
		return nil, newConfigError("unknown embedding model %q: embeddingDimensions is required", name)
	}
	if params.EmbeddingDimensions > maxVectorDimensions {
		return nil, newConfigError("embeddingDimensions %d exceeds the index limit of %d", params.EmbeddingDimensions, maxVectorDimensions)
	}
	maxTokens, ok, err := cfg.positiveIntParam("maxInputTokens")
	if err != nil {
		return nil, err
	}
	if ok {
		params.MaxInputTokens = maxTokens
	} else if params.MaxInputTokens == 0 {
		params.MaxInputTokens = defaultMaxInputTokens
	}

	suffix, ok, err := cfg.stringParam("tableSuffix")
	if err != nil {
		return nil, err
	}
	if !ok {
		base := name[strings.LastIndex(name, "/")+1:]
		suffix = strings.Trim(nonIdentRuneRe.ReplaceAllString(base, "_"), "_")
	}
	table := tablePrefix + suffix
	if !identifierRe.MatchString(table) || len(table) > maxIdentifierLen {
		return nil, newConfigError("table name %q is not a valid identifier", table)
	}

	apiKey, _, err := cfg.stringParam("apiKey")
	if err != nil {
		return nil, err
	}

	return &embeddingBase{
		backend: backend,
		model:   name,
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  apiKey,
		table:   table,
		params:  params,
	}, nil
}

// checkDimensions verifies every vector has the declared width.
func (b *embeddingBase) checkDimensions(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != b.params.EmbeddingDimensions {
			return fmtDimErr(b.model, len(v), b.params.EmbeddingDimensions)
		}
	}
	return nil
}

// generationBase holds what every generation adapter shares.
type generationBase struct {
	backend     BackendType
	model       string
	url         string
	apiKey      string
	maxTokens   int
	temperature float64
}

func (b *generationBase) Backend() BackendType { return b.backend }
func (b *generationBase) ModelName() string    { return b.model }

func newGenerationBase(cfg ModelConfig, requireURL bool) (*generationBase, error) {
	backend, name := cfg.Backend()
	if name == "" {
		return nil, newConfigError("model %q has no model name after the backend type", cfg.Model)
	}
	if requireURL && cfg.URL == "" {
		return nil, newConfigError("url is required for %s", backend)
	}
	apiKey, _, err := cfg.stringParam("apiKey")
	if err != nil {
		return nil, err
	}
	maxTokens, _, err := cfg.positiveIntParam("maxNewTokens")
	if err != nil {
		return nil, err
	}
	temperature, _, err := cfg.floatParam("temperature")
	if err != nil {
		return nil, err
	}
	return &generationBase{
		backend:     backend,
		model:       name,
		url:         strings.TrimRight(cfg.URL, "/"),
		apiKey:      apiKey,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// options merges per-call options over the configured defaults.
func (b *generationBase) options(opts GenerateOptions) GenerateOptions {
	if opts.MaxNewTokens == 0 {
		opts.MaxNewTokens = b.maxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = b.temperature
	}
	return opts
}

// SplitText breaks text on whitespace into chunks that each fit within
// maxTokens, estimating four characters per token. Words longer than the
// limit are cut at rune boundaries.
func SplitText(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxInputTokens
	}
	limit := maxTokens * 4

	var chunks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	for _, w := range words {
		for len(w) > limit {
			flush()
			cut := runeCut(w, limit)
			chunks = append(chunks, w[:cut])
			w = w[cut:]
		}
		if b.Len() > 0 && b.Len()+1+len(w) > limit {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	flush()
	return chunks
}

// runeCut returns the largest index <= limit that starts a rune in s.
// It always makes progress, even when limit is smaller than the first rune.
func runeCut(s string, limit int) int {
	for i := limit; i > 0; i-- {
		if utf8.RuneStart(s[i]) {
			return i
		}
	}
	_, size := utf8.DecodeRuneInString(s)
	return size
}
