package postgres_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origo-labs/soulcore-go/pkg/store"
	postgresStore "github.com/origo-labs/soulcore-go/pkg/store/postgres"
)

// setupPostgresTest connects to the server named by TEST_POSTGRES_*
// environment variables, skipping when none is configured.
func setupPostgresTest(t *testing.T) store.Store {
	t.Helper()

	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set, skipping PostgreSQL store tests")
	}

	port, _ := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT"))
	if port == 0 {
		port = 5432
	}

	client, err := postgresStore.NewClient(&postgresStore.Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_POSTGRES_USER"),
		Password: os.Getenv("TEST_POSTGRES_PASSWORD"),
		Database: os.Getenv("TEST_POSTGRES_DATABASE"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPostgresEntityUpsert(t *testing.T) {
	st := setupPostgresTest(t)
	ctx := context.Background()

	key := "test_entity_" + strconv.FormatInt(time.Now().UnixNano(), 10)

	require.NoError(t, st.UpsertEntity(ctx, &store.Entity{Key: key, Type: "t", Value: "v1"}))
	require.NoError(t, st.UpsertEntity(ctx, &store.Entity{Key: key, Type: "t", Value: "v2"}))

	got, err := st.GetEntity(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Value)
}

func TestPostgresCacheUpsert(t *testing.T) {
	st := setupPostgresTest(t)
	ctx := context.Background()

	hash := "test_hash_" + strconv.FormatInt(time.Now().UnixNano(), 10)

	require.NoError(t, st.SaveSearch(ctx, &store.CacheEntry{
		QueryHash: hash, Query: "q", Result: "old", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, st.SaveSearch(ctx, &store.CacheEntry{
		QueryHash: hash, Query: "q", Result: "new", ExpiresAt: time.Now().Add(time.Hour),
	}))

	got, err := st.GetCachedSearch(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Result)
}
