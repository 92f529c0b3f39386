package embed

import (
	"testing"

	"github.com/combiphar/corpus/internal/config"
)

func TestNewProviderSelection(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(config.EmbeddingConfig{Provider: "cohere"})
		if err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})

	t.Run("openai requires api key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := New(config.EmbeddingConfig{Provider: "openai"})
		if err == nil {
			t.Fatal("expected error without api key")
		}
	})

	t.Run("ollama defaults", func(t *testing.T) {
		e, err := New(config.EmbeddingConfig{Provider: "ollama"})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if e.Model() != defaultOllamaModel {
			t.Errorf("Model() = %s, want %s", e.Model(), defaultOllamaModel)
		}
		if e.Dimension() != defaultOllamaDimension {
			t.Errorf("Dimension() = %d, want %d", e.Dimension(), defaultOllamaDimension)
		}
	})

	t.Run("openai with explicit key", func(t *testing.T) {
		e, err := New(config.EmbeddingConfig{Provider: "openai", APIKey: "sk-test", Dimension: 256})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if e.Model() != "text-embedding-3-small" {
			t.Errorf("Model() = %s", e.Model())
		}
		if e.Dimension() != 256 {
			t.Errorf("Dimension() = %d, want 256", e.Dimension())
		}
	})
}
