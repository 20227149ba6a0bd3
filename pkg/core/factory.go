package core

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/embedder"
	embedderollama "github.com/origo-labs/soulcore-go/pkg/embedder/ollama"
	embedderopenai "github.com/origo-labs/soulcore-go/pkg/embedder/openai"
	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/llm/anthropic"
	llmollama "github.com/origo-labs/soulcore-go/pkg/llm/ollama"
	llmopenai "github.com/origo-labs/soulcore-go/pkg/llm/openai"
	"github.com/origo-labs/soulcore-go/pkg/rerank"
	"github.com/origo-labs/soulcore-go/pkg/store"
	"github.com/origo-labs/soulcore-go/pkg/store/mysql"
	"github.com/origo-labs/soulcore-go/pkg/store/postgres"
	"github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

// NewStoreFromConfig creates the configured store backend.
func NewStoreFromConfig(cfg *StoreConfig) (store.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{DBPath: cfg.Path})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		})
	default:
		return nil, NewCoreError("NewStoreFromConfig",
			fmt.Errorf("%w: store %q", ErrUnknownProvider, cfg.Provider))
	}
}

// NewProviderFromConfig creates a model backend from provider configuration.
// A non-empty model overrides the configured one, which lets the router and
// heartbeat loops run smaller models on the same backend.
func NewProviderFromConfig(cfg *ProviderConfig, model string) (llm.Provider, error) {
	if model == "" {
		model = cfg.Model
	}

	switch cfg.Provider {
	case "ollama":
		return llmollama.NewClient(&llmollama.Config{
			Model:   model,
			BaseURL: cfg.BaseURL,
		})
	case "openai":
		return llmopenai.NewClient(&llmopenai.Config{
			APIKey:  cfg.APIKey,
			Model:   model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return anthropic.NewClient(&anthropic.Config{
			APIKey:  cfg.APIKey,
			Model:   model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewCoreError("NewProviderFromConfig",
			fmt.Errorf("%w: llm %q", ErrUnknownProvider, cfg.Provider))
	}
}

// NewEmbedderFromConfig creates an embedding backend from configuration.
func NewEmbedderFromConfig(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return embedderollama.NewClient(&embedderollama.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "openai":
		return embedderopenai.NewClient(&embedderopenai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, NewCoreError("NewEmbedderFromConfig",
			fmt.Errorf("%w: embedder %q", ErrUnknownProvider, cfg.Provider))
	}
}

// NewFilterFromConfig creates the relevance filter, or nil when disabled.
// Embedding mode needs the embedder configuration; http mode ignores it.
func NewFilterFromConfig(cfg *RerankerConfig, embedderCfg *EmbedderConfig, log *zap.Logger) (*rerank.Filter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var scorer rerank.Scorer
	switch cfg.Mode {
	case "http":
		scorer = rerank.NewHTTPScorer(&rerank.HTTPConfig{URL: cfg.URL})
	case "embedding":
		provider, err := NewEmbedderFromConfig(embedderCfg)
		if err != nil {
			return nil, err
		}
		scorer = rerank.NewEmbeddingScorer(provider)
	default:
		return nil, NewCoreError("NewFilterFromConfig",
			fmt.Errorf("%w: reranker mode %q", ErrUnknownProvider, cfg.Mode))
	}

	return rerank.NewFilter(scorer, cfg.Threshold, log.Named("rerank")), nil
}
