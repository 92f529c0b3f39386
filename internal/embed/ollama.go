package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/observability"
)

const (
	defaultOllamaHost      = "http://localhost:11434"
	defaultOllamaModel     = "nomic-embed-text"
	defaultOllamaDimension = 768
	defaultOllamaParallel  = 10
)

// OllamaEmbedder generates embeddings via a local Ollama instance. Batch
// requests fan out over a bounded number of goroutines because Ollama
// embeds one input per request efficiently.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
	parallel  int
	logger    zerolog.Logger
	mu        sync.RWMutex
	ready     bool
}

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*OllamaEmbedder, error) {
	host := cfg.Endpoint
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = defaultOllamaDimension
	}

	ollamaURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host URL: %w", err)
	}

	return &OllamaEmbedder{
		client:    api.NewClient(ollamaURL, http.DefaultClient),
		model:     model,
		dimension: dimension,
		parallel:  defaultOllamaParallel,
		logger:    observability.Logger("embed.ollama"),
	}, nil
}

// EnsureModel makes sure the model is present locally, pulling it when
// missing.
func (e *OllamaEmbedder) EnsureModel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}

	if _, err := e.client.Show(ctx, &api.ShowRequest{Model: e.model}); err == nil {
		e.ready = true
		return nil
	}

	e.logger.Info().Str("model", e.model).Msg("pulling embedding model")
	progressFn := func(resp api.ProgressResponse) error {
		if resp.Total > 0 {
			pct := float64(resp.Completed) / float64(resp.Total) * 100
			e.logger.Debug().Str("status", resp.Status).Float64("progress", pct).Msg("pulling model")
		}
		return nil
	}
	if err := e.client.Pull(ctx, &api.PullRequest{Model: e.model}, progressFn); err != nil {
		return fmt.Errorf("pull embedding model %s: %w", e.model, err)
	}

	e.ready = true
	e.logger.Info().Str("model", e.model).Msg("embedding model ready")
	return nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.EnsureModel(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	embeddings := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.parallel)

	for i, text := range texts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int, txt string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			embedding, err := e.embedSingle(ctx, txt)
			if err != nil {
				errs[idx] = err
				return
			}
			embeddings[idx] = embedding
		}(i, text)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embedding failed for text %d: %w", i, err)
		}
	}

	e.logger.Debug().
		Int("count", len(texts)).
		Dur("duration", time.Since(start)).
		Msg("batch embedding completed")
	return embeddings, nil
}

func (e *OllamaEmbedder) embedSingle(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}

	embedding := make([]float32, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

func (e *OllamaEmbedder) Model() string { return e.model }

func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	embedding, err := e.Embed(ctx, "health check")
	if err != nil {
		return fmt.Errorf("embedding health check failed: %w", err)
	}
	if len(embedding) != e.dimension {
		return fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(embedding), e.dimension)
	}
	return nil
}
