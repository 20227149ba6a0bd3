package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/memory"
	"github.com/origo-labs/soulcore-go/pkg/store"
	sqliteStore "github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

func setupAssemblerTest(t *testing.T) store.Store {
	t.Helper()

	st, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "test_memory.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAssembleScoped(t *testing.T) {
	st := setupAssemblerTest(t)
	ctx := context.Background()

	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID: 1, ConversationID: "conv-a", Model: "soulcore", Content: "user asked about Go",
	}))
	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID: 2, ConversationID: "conv-b", Model: "soulcore", Content: "unrelated thread",
	}))
	require.NoError(t, st.AddFact(ctx, &store.Fact{
		ID: 1, Subject: "user", Predicate: "likes", Object: "coffee",
	}))

	assembler := memory.NewAssembler(st, "soulcore", 5, zap.NewNop())
	block := assembler.Assemble(ctx, "conv-a", false)

	assert.Contains(t, block, "user asked about Go")
	assert.NotContains(t, block, "unrelated thread", "scoped assembly must not leak other conversations")
	assert.Contains(t, block, "user likes coffee", "facts are always global")
}

func TestAssembleCrossConversation(t *testing.T) {
	st := setupAssemblerTest(t)
	ctx := context.Background()

	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID: 1, ConversationID: "conv-a", Model: "soulcore", Content: "note from this thread",
	}))
	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID: 2, ConversationID: "conv-b", Model: "soulcore", Content: "note from another thread",
	}))
	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID: 3, ConversationID: "conv-c", Model: "other-model", Content: "someone else's note",
	}))

	assembler := memory.NewAssembler(st, "soulcore", 5, zap.NewNop())
	block := assembler.Assemble(ctx, "conv-a", true)

	assert.Contains(t, block, "note from this thread")
	assert.Contains(t, block, "note from another thread",
		"cross-conversation mode recalls by model identity")
	assert.NotContains(t, block, "someone else's note")
}

func TestAssembleCrossConversationCapped(t *testing.T) {
	st := setupAssemblerTest(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		require.NoError(t, st.AddNote(ctx, &store.Note{
			ID:             int64(i + 1),
			ConversationID: "conv-a",
			Model:          "soulcore",
			Content:        "note " + string(rune('a'+i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	assembler := memory.NewAssembler(st, "soulcore", 5, zap.NewNop())
	block := assembler.Assemble(ctx, "conv-a", true)

	assert.Contains(t, block, "note h", "cross-conversation mode keeps the newest notes")
	assert.NotContains(t, block, "note a", "cross-conversation mode is capped")
}

func TestAssembleEmpty(t *testing.T) {
	st := setupAssemblerTest(t)

	assembler := memory.NewAssembler(st, "soulcore", 5, zap.NewNop())
	block := assembler.Assemble(context.Background(), "conv-a", false)

	assert.Empty(t, block, "no memory means no block, not an empty header")
}
