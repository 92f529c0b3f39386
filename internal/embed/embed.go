// Package embed generates vector embeddings for chunk text. Providers are
// selected by configuration; both speak the same Embedder interface.
package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/combiphar/corpus/internal/config"
)

// Embedder generates vector embeddings.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts, index-aligned
	// with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the configured embedding dimension.
	Dimension() int
	// Model returns the embedding model name.
	Model() string
	// HealthCheck verifies the provider is reachable and produces vectors
	// of the configured dimension.
	HealthCheck(ctx context.Context) error
}

// New creates the embedder named by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
