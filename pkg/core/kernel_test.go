package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/core"
	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/memory"
	"github.com/origo-labs/soulcore-go/pkg/retrieval"
	"github.com/origo-labs/soulcore-go/pkg/store"
)

// fakeProvider answers every chat call with reply and every single-prompt
// call with decision, recording the prompts it saw.
type fakeProvider struct {
	reply    string
	decision string
	prompts  []string
	systems  []string
}

func (p *fakeProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	p.prompts = append(p.prompts, prompt)
	return p.decision, nil
}

func (p *fakeProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	for _, m := range messages {
		if m.Role == "system" {
			p.systems = append(p.systems, m.Content)
		}
	}
	return p.reply, nil
}

func (p *fakeProvider) Close() error { return nil }

type recordingModule struct {
	queries []string
	results []retrieval.Result
}

func (m *recordingModule) Execute(ctx context.Context, query string) ([]retrieval.Result, error) {
	m.queries = append(m.queries, query)
	return m.results, nil
}

func (m *recordingModule) Description() string { return "recording test module" }

func setupKernelTest(t *testing.T, provider, router *fakeProvider, module retrieval.Module) *core.Kernel {
	t.Helper()

	st, node := setupCoreTest(t)

	cache, err := retrieval.NewCache(st, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	registry := retrieval.NewRegistry()
	if module != nil {
		registry.Register("search", module)
	}

	return core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  provider,
		Router:    router,
		Registry:  registry,
		Cache:     cache,
		Assembler: memory.NewAssembler(st, "soulcore", 5, zap.NewNop()),
		Prompts:   core.NewPromptState(&core.PersonaConfig{Name: "soulcore", System: "You are soulcore."}),
		Node:      node,
		RouterCfg: core.RouterConfig{MinWords: 3, DefaultSearch: false},
		Logger:    zap.NewNop(),
	})
}

func TestProcessMessageInternal(t *testing.T) {
	provider := &fakeProvider{reply: "The answer is 42. <notepad>user is testing me</notepad>"}
	router := &fakeProvider{decision: "INTERNAL"}
	module := &recordingModule{}

	kernel := setupKernelTest(t, provider, router, module)

	reply, err := kernel.ProcessMessage(context.Background(), "conv-a", "what is the answer to everything")
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", reply, "directives are stripped from the visible reply")
	assert.Empty(t, module.queries, "an INTERNAL decision must not trigger a search")
	require.Len(t, provider.systems, 1)
	assert.Contains(t, provider.systems[0], "You are soulcore.")
}

func TestProcessMessageSearch(t *testing.T) {
	provider := &fakeProvider{reply: "It will rain tomorrow."}
	router := &fakeProvider{decision: "SEARCH"}
	module := &recordingModule{results: []retrieval.Result{
		{Title: "forecast", URL: "http://example.com", Content: "rain expected tomorrow"},
	}}

	kernel := setupKernelTest(t, provider, router, module)

	reply, err := kernel.ProcessMessage(context.Background(), "conv-a", "weather in Budapest tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "It will rain tomorrow.", reply)

	require.Len(t, module.queries, 1, "a SEARCH decision runs the search module")
	assert.Equal(t, "weather in budapest tomorrow", module.queries[0],
		"the search module receives the normalized query")
	require.Len(t, provider.systems, 1)
	assert.Contains(t, provider.systems[0], "Retrieved context:")

	// The same question again hits the cache, not the module.
	_, err = kernel.ProcessMessage(context.Background(), "conv-a", "weather in Budapest tomorrow")
	require.NoError(t, err)
	assert.Len(t, module.queries, 1, "the second identical query must be served from cache")
}

func TestProcessMessageMeta(t *testing.T) {
	provider := &fakeProvider{reply: "Conversation Title <notepad>titled the thread</notepad>"}
	router := &fakeProvider{decision: "SEARCH"}
	module := &recordingModule{results: []retrieval.Result{
		{Title: "noise", URL: "http://example.com", Content: "irrelevant"},
	}}

	st, node := setupCoreTest(t)
	cache, err := retrieval.NewCache(st, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	registry := retrieval.NewRegistry()
	registry.Register("search", module)

	kernel := core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  provider,
		Router:    router,
		Registry:  registry,
		Cache:     cache,
		Assembler: memory.NewAssembler(st, "soulcore", 5, zap.NewNop()),
		Prompts:   core.NewPromptState(&core.PersonaConfig{Name: "soulcore"}),
		Node:      node,
		RouterCfg: core.RouterConfig{MinWords: 3, DefaultSearch: true},
		Logger:    zap.NewNop(),
	})

	_, err = kernel.ProcessMessage(context.Background(), "conv-m",
		"### Task: generate title for this follow-up conversation")
	require.NoError(t, err)

	assert.Empty(t, module.queries, "frontend utility traffic never triggers a search")
	assert.Empty(t, router.prompts, "the router is not consulted for utility traffic")

	kernel.Wait()
	notes, err := st.NotesByConversation(context.Background(), "conv-m")
	require.NoError(t, err)
	assert.Empty(t, notes, "utility turns must not write notes")
}

func TestProcessMessageFreedomMode(t *testing.T) {
	provider := &fakeProvider{reply: "Hello again."}
	router := &fakeProvider{decision: "INTERNAL"}

	st, node := setupCoreTest(t)
	ctx := context.Background()

	require.NoError(t, st.SetSetting(ctx, "freedom_mode", "true"))
	require.NoError(t, st.AddNote(ctx, &store.Note{
		ID:             node.Generate().Int64(),
		ConversationID: "conv-other",
		Model:          "soulcore",
		Content:        "cross conversation memory anchor",
	}))

	cache, err := retrieval.NewCache(st, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	kernel := core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  provider,
		Router:    router,
		Registry:  retrieval.NewRegistry(),
		Cache:     cache,
		Assembler: memory.NewAssembler(st, "soulcore", 5, zap.NewNop()),
		Prompts:   core.NewPromptState(&core.PersonaConfig{Name: "soulcore", System: "You are soulcore."}),
		Node:      node,
		RouterCfg: core.RouterConfig{MinWords: 3},
		Logger:    zap.NewNop(),
	})

	_, err = kernel.ProcessMessage(ctx, "conv-a", "do you remember what we talked about before")
	require.NoError(t, err)

	require.Len(t, provider.systems, 1)
	assert.Contains(t, provider.systems[0], "cross conversation memory anchor",
		"freedom mode surfaces notes from other conversations")
}

func TestProcessMessageShortSkipsRouter(t *testing.T) {
	provider := &fakeProvider{reply: "Hello!"}
	router := &fakeProvider{decision: "SEARCH"}
	module := &recordingModule{}

	kernel := setupKernelTest(t, provider, router, module)

	_, err := kernel.ProcessMessage(context.Background(), "conv-a", "hi there")
	require.NoError(t, err)

	assert.Empty(t, router.prompts, "messages below the word threshold never reach the router")
	assert.Empty(t, module.queries)
}

func TestProcessMessageEmpty(t *testing.T) {
	provider := &fakeProvider{reply: "unused"}
	kernel := setupKernelTest(t, provider, &fakeProvider{}, nil)

	_, err := kernel.ProcessMessage(context.Background(), "conv-a", "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyMessage)
}

func TestProcessMessagePersistsDirectives(t *testing.T) {
	provider := &fakeProvider{reply: "Noted. <notepad>user prefers metric units</notepad>"}
	router := &fakeProvider{decision: "INTERNAL"}

	st, node := setupCoreTest(t)
	cache, err := retrieval.NewCache(st, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	kernel := core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  provider,
		Router:    router,
		Registry:  retrieval.NewRegistry(),
		Cache:     cache,
		Assembler: memory.NewAssembler(st, "soulcore", 5, zap.NewNop()),
		Prompts:   core.NewPromptState(&core.PersonaConfig{Name: "soulcore"}),
		Node:      node,
		RouterCfg: core.RouterConfig{MinWords: 3},
		Logger:    zap.NewNop(),
	})

	reply, err := kernel.ProcessMessage(context.Background(), "conv-a", "please use metric units from now on")
	require.NoError(t, err)
	assert.False(t, strings.Contains(reply, "notepad"))

	// Post-processing runs in the background; drain it before asserting.
	kernel.Wait()

	notes, err := st.NotesByConversation(context.Background(), "conv-a")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "user prefers metric units", notes[0].Content)
}
