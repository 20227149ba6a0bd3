package retrieval_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/retrieval"
	"github.com/origo-labs/soulcore-go/pkg/store"
	sqliteStore "github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

func setupCacheTest(t *testing.T, ttl time.Duration) (*retrieval.Cache, store.Store) {
	t.Helper()

	st, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "test_cache.db"),
	})
	require.NoError(t, err)

	cache, err := retrieval.NewCache(st, ttl, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		cache.Close()
		_ = st.Close()
	})

	return cache, st
}

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"What is the capital of France?":      "what is the capital of france?",
		"hey, what is the capital of France?": "what is the capital of france?",
		"Hey   what    is   up":               "what is up",
		"hello! hi, tell me about Go":         "tell me about go",
		"heyday of jazz":                      "heyday of jazz",
	}
	for input, want := range cases {
		assert.Equal(t, want, retrieval.NormalizeQuery(input), "input: %q", input)
	}
}

func TestHashQueryStable(t *testing.T) {
	a := retrieval.HashQuery(retrieval.NormalizeQuery("Hey, weather in Budapest"))
	b := retrieval.HashQuery(retrieval.NormalizeQuery("weather   in Budapest"))
	assert.Equal(t, a, b, "greeting and spacing variants must share one key")

	c := retrieval.HashQuery(retrieval.NormalizeQuery("weather in Vienna"))
	assert.NotEqual(t, a, c)
}

func TestCachePutGet(t *testing.T) {
	cache, _ := setupCacheTest(t, time.Hour)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "weather in Budapest")
	assert.False(t, ok, "empty cache must miss")

	cache.Put(ctx, "weather in Budapest", "sunny, 25C")

	got, ok := cache.Get(ctx, "weather in Budapest")
	require.True(t, ok)
	assert.Equal(t, "sunny, 25C", got)

	// Normalization variants hit the same entry.
	got, ok = cache.Get(ctx, "hey, weather in Budapest")
	require.True(t, ok)
	assert.Equal(t, "sunny, 25C", got)
}

func TestCacheLatestWriteWins(t *testing.T) {
	cache, st := setupCacheTest(t, time.Hour)
	ctx := context.Background()

	cache.Put(ctx, "news today", "old result")
	cache.Put(ctx, "news today", "fresh result")

	got, ok := cache.Get(ctx, "news today")
	require.True(t, ok)
	assert.Equal(t, "fresh result", got)

	// Exactly one row in the store tier.
	hash := retrieval.HashQuery(retrieval.NormalizeQuery("news today"))
	entry, err := st.GetCachedSearch(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "fresh result", entry.Result)
}

func TestCacheExpiry(t *testing.T) {
	cache, st := setupCacheTest(t, -time.Minute)
	ctx := context.Background()

	cache.Put(ctx, "stale question", "stale answer")

	_, ok := cache.Get(ctx, "stale question")
	assert.False(t, ok, "an expired entry is logically absent")

	// The row itself remains until overwritten.
	hash := retrieval.HashQuery(retrieval.NormalizeQuery("stale question"))
	entry, err := st.GetCachedSearch(ctx, hash)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}
