package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origo-labs/soulcore-go/pkg/core"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := core.DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Provider)
	assert.Equal(t, "ollama", cfg.Provider.Provider)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Provider.Provider = ""
	assert.Error(t, cfg.Validate())

	cfg = core.DefaultConfig()
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate(), "sqlite without a path is unusable")

	cfg = core.DefaultConfig()
	cfg.Reranker.Mode = "http"
	cfg.Reranker.URL = ""
	assert.Error(t, cfg.Validate(), "http reranker needs an endpoint")

	cfg = core.DefaultConfig()
	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  provider: openai
  model: gpt-4
  api_key: test-key
router:
  default_search: true
search:
  cache_ttl_minutes: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := core.LoadConfigFromYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider.Provider)
	assert.Equal(t, "gpt-4", cfg.Provider.Model)
	assert.True(t, cfg.Router.DefaultSearch)
	assert.Equal(t, 30, cfg.Search.CacheTTLMinutes)

	// Unset fields keep their defaults.
	assert.Equal(t, "sqlite", cfg.Store.Provider)
	assert.Equal(t, 8000, cfg.API.Port)
}

func TestLoadConfigFromYAMLMissingFile(t *testing.T) {
	_, err := core.LoadConfigFromYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
