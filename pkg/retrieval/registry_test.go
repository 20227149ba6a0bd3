package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origo-labs/soulcore-go/pkg/retrieval"
)

type staticModule struct {
	results []retrieval.Result
}

func (m *staticModule) Execute(ctx context.Context, query string) ([]retrieval.Result, error) {
	return m.results, nil
}

func (m *staticModule) Description() string {
	return "static test module"
}

func TestRegistry(t *testing.T) {
	registry := retrieval.NewRegistry()

	_, err := registry.Get("search")
	assert.Error(t, err, "unregistered module lookup must fail")

	module := &staticModule{results: []retrieval.Result{{Title: "t", Content: "c"}}}
	registry.Register("search", module)

	got, err := registry.Get("search")
	require.NoError(t, err)

	results, err := got.Execute(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.Contains(t, registry.Names(), "search")

	// Re-registration replaces.
	registry.Register("search", &staticModule{})
	got, err = registry.Get("search")
	require.NoError(t, err)
	results, err = got.Execute(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}
