package embedding

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/logging"
)

// OpenAI calls an OpenAI-compatible /v1/embeddings endpoint (OpenAI, Ollama, vLLM, ...).
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
	logger *zap.Logger
}

// NewOpenAI creates an embedder for cfg.URL and cfg.Model.
func NewOpenAI(cfg config.EmbeddingConfig, logger *zap.Logger) (*OpenAI, error) {
	if cfg.URL == "" {
		return nil, errors.New("embedding url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Dim <= 0 {
		return nil, errors.Newf("embedding dimension must be positive, got %d", cfg.Dim)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "local" // local services ignore the key
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.URL
	oc.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		dim:    cfg.Dim,
		logger: logging.OrNop(logger),
	}, nil
}

// Embed implements Provider. A response whose length differs from the configured
// dimension is rejected rather than passed on to the index.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		o.logger.Warn("embedding request failed", zap.String("model", o.model), zap.Error(err))
		return nil, errors.Mark(errors.Wrap(err, "create embeddings"), ErrEmbedding)
	}
	if len(resp.Data) == 0 {
		return nil, errors.Wrap(ErrEmbedding, "empty embedding response")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != o.dim {
		return nil, errors.Wrapf(ErrEmbedding, "model %s returned %d dimensions, want %d", o.model, len(vec), o.dim)
	}
	return vec, nil
}

// Dimensions implements Provider.
func (o *OpenAI) Dimensions() int { return o.dim }

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai:" + o.model }
