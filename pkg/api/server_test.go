package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/api"
	"github.com/origo-labs/soulcore-go/pkg/core"
	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/memory"
	"github.com/origo-labs/soulcore-go/pkg/retrieval"
	sqliteStore "github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

type cannedProvider struct {
	reply string
}

func (p *cannedProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return "INTERNAL", nil
}

func (p *cannedProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return p.reply, nil
}

func (p *cannedProvider) Close() error { return nil }

func setupServerTest(t *testing.T, reply string, reload func() error) *httptest.Server {
	t.Helper()

	st, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "test_api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cache, err := retrieval.NewCache(st, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	kernel := core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  &cannedProvider{reply: reply},
		Registry:  retrieval.NewRegistry(),
		Cache:     cache,
		Assembler: memory.NewAssembler(st, "soulcore", 5, zap.NewNop()),
		Prompts:   core.NewPromptState(&core.PersonaConfig{Name: "soulcore"}),
		Node:      node,
		RouterCfg: core.RouterConfig{MinWords: 100},
		Logger:    zap.NewNop(),
	})
	t.Cleanup(kernel.Wait)

	extractor := memory.NewExtractor(st, &cannedProvider{reply: "NONE"}, node, zap.NewNop())

	server := api.NewServer(&api.Config{Model: "test-model"}, kernel, extractor, reload, nil, zap.NewNop())

	// Route through the same mux the real listener uses.
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestModelsEndpoint(t *testing.T) {
	ts := setupServerTest(t, "hello", nil)

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "test-model", body.Data[0].ID)
}

func TestChatCompletion(t *testing.T) {
	ts := setupServerTest(t, "The reply. <notepad>hidden</notepad>", nil)

	payload := `{"messages":[{"role":"user","content":"say something nice"}],"conversation_id":"conv-a"}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.True(t, strings.HasPrefix(body.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", body.Object)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, "The reply.", body.Choices[0].Message.Content,
		"directives never reach the API surface")
}

func TestChatCompletionStream(t *testing.T) {
	ts := setupServerTest(t, "streamed reply", nil)

	payload := `{"messages":[{"role":"user","content":"stream this"}],"stream":true}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "streamed reply")
	assert.Contains(t, raw, "data: [DONE]")
}

func TestChatCompletionNoUserMessage(t *testing.T) {
	ts := setupServerTest(t, "unused", nil)

	payload := `{"messages":[{"role":"system","content":"only a system turn"}]}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Error.Message)
}

func TestDistillEndpoint(t *testing.T) {
	ts := setupServerTest(t, "unused", nil)

	resp, err := http.Post(ts.URL+"/v1/memory/distill", "application/json",
		bytes.NewBufferString(`{"conversation_id":"conv-a"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		FactsWritten int `json:"facts_written"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.FactsWritten, "no notes means no facts")

	// Missing conversation ID is rejected.
	resp2, err := http.Post(ts.URL+"/v1/memory/distill", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestReloadEndpoint(t *testing.T) {
	reloaded := false
	ts := setupServerTest(t, "unused", func() error {
		reloaded = true
		return nil
	})

	resp, err := http.Post(ts.URL+"/system/reload", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, reloaded)
}

func TestReloadUnavailable(t *testing.T) {
	ts := setupServerTest(t, "unused", nil)

	resp, err := http.Post(ts.URL+"/system/reload", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
