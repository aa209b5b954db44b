// Package embedding maps query text to fixed-dimension vectors.
package embedding

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
)

// ErrEmbedding marks a failed embedding: provider unreachable or malformed input.
var ErrEmbedding = errors.New("embedding failed")

// Provider turns text into a vector of length Dimensions().
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// New returns the provider selected by cfg.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingHash, "":
		return NewHash(cfg.Dim)
	case config.EmbeddingOpenAI:
		return NewOpenAI(cfg, logger)
	default:
		return nil, errors.Newf("unknown embedding provider %q", cfg.Provider)
	}
}
