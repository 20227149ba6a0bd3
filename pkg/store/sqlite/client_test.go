package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origo-labs/soulcore-go/pkg/store"
	sqliteStore "github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

func setupStoreTest(t *testing.T) store.Store {
	t.Helper()

	client, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "test_soulcore.db"),
	})
	require.NoError(t, err)
	require.NotNil(t, client)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestSettings(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	value, err := st.GetSetting(ctx, "freedom_mode", "false")
	assert.NoError(t, err)
	assert.Equal(t, "false", value, "absent key should return the fallback")

	require.NoError(t, st.SetSetting(ctx, "freedom_mode", "true"))

	value, err = st.GetSetting(ctx, "freedom_mode", "false")
	assert.NoError(t, err)
	assert.Equal(t, "true", value)

	// Overwrite
	require.NoError(t, st.SetSetting(ctx, "freedom_mode", "false"))
	value, err = st.GetSetting(ctx, "freedom_mode", "true")
	assert.NoError(t, err)
	assert.Equal(t, "false", value)
}

func TestSearchCacheUpsert(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	entry, err := st.GetCachedSearch(ctx, "missing-hash")
	assert.NoError(t, err)
	assert.Nil(t, entry, "missing hash should return nil, not an error")

	first := &store.CacheEntry{
		QueryHash: "abc123",
		Query:     "weather in budapest",
		Result:    "sunny",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.SaveSearch(ctx, first))

	second := &store.CacheEntry{
		QueryHash: "abc123",
		Query:     "weather in budapest",
		Result:    "raining",
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}
	require.NoError(t, st.SaveSearch(ctx, second))

	got, err := st.GetCachedSearch(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "raining", got.Result, "the newest write for a hash must win")
}

func TestNotesConversationIsolation(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, st.AddNote(ctx, &store.Note{
			ID:             int64(i + 1),
			ConversationID: "conv-a",
			Model:          "soulcore",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID:             100,
		ConversationID: "conv-b",
		Model:          "soulcore",
		Content:        "other thread",
	}))

	notes, err := st.NotesByConversation(ctx, "conv-a")
	require.NoError(t, err)
	require.Len(t, notes, 3, "notes from other conversations must not leak")
	assert.Equal(t, "first", notes[0].Content, "conversation notes are chronological")
	assert.Equal(t, "third", notes[2].Content)

	recent, err := st.NotesByModel(ctx, "soulcore", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other thread", recent[0].Content, "model notes are newest first")

	require.NoError(t, st.DeleteNotes(ctx, "conv-a"))
	notes, err = st.NotesByConversation(ctx, "conv-a")
	require.NoError(t, err)
	assert.Empty(t, notes)

	notes, err = st.NotesByConversation(ctx, "conv-b")
	require.NoError(t, err)
	assert.Len(t, notes, 1, "delete must be scoped to one conversation")
}

func TestFactsSubjectFilter(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	require.NoError(t, st.AddFact(ctx, &store.Fact{
		ID: 1, Subject: "user", Predicate: "likes", Object: "coffee", Confidence: 0.9,
	}))
	require.NoError(t, st.AddFact(ctx, &store.Fact{
		ID: 2, Subject: "user", Predicate: "lives in", Object: "Budapest", Confidence: 0.8,
	}))
	require.NoError(t, st.AddFact(ctx, &store.Fact{
		ID: 3, Subject: "system", Predicate: "runs on", Object: "a workstation", Confidence: 1.0,
	}))

	all, err := st.Facts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	userFacts, err := st.Facts(ctx, "user")
	require.NoError(t, err)
	assert.Len(t, userFacts, 2)
	for _, f := range userFacts {
		assert.Equal(t, "user", f.Subject)
	}
}

func TestEntityUpsert(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	got, err := st.GetEntity(ctx, "mood")
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, st.UpsertEntity(ctx, &store.Entity{
		Key: "mood", Type: "attribute", Value: "curious",
	}))
	require.NoError(t, st.UpsertEntity(ctx, &store.Entity{
		Key: "mood", Type: "attribute", Value: "focused",
	}))

	got, err = st.GetEntity(ctx, "mood")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "focused", got.Value, "upsert must overwrite by key")
}

func TestReflectionLog(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AddReflection(ctx, &store.Reflection{
			ID:        int64(i + 1),
			Model:     "scribe",
			Protocol:  "idle-reflection",
			Content:   "entry",
			Priority:  i,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := st.RecentReflections(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].ID, "reflections are newest first")
	assert.Equal(t, 4, recent[0].Priority)
}

func TestTaskLifecycle(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID:           1,
		Description:  "not due yet",
		Priority:     5,
		ScheduledFor: &future,
	}))
	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID:          2,
		Description: "due, low priority",
		Priority:    1,
	}))
	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID:          3,
		Description: "due, high priority",
		Priority:    4,
	}))

	due, err := st.NextDueTask(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, int64(3), due.ID, "highest-priority due task goes first; future tasks wait")

	claimed, err := st.ClaimTask(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim of the same task must lose.
	claimed, err = st.ClaimTask(ctx, due.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "a running task cannot be claimed again")

	require.NoError(t, st.SetTaskStatus(ctx, due.ID, store.TaskCompleted))

	got, err := st.GetTask(ctx, due.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.TaskCompleted, got.Status)

	next, err := st.NextDueTask(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, int64(2), next.ID)
}

func TestChannelMessages(t *testing.T) {
	st := setupStoreTest(t)
	ctx := context.Background()

	require.NoError(t, st.AppendMessage(ctx, &store.ChannelMessage{
		ID:        1,
		ChannelID: "conv-a",
		Role:      "assistant",
		Content:   "hello",
	}))
}
