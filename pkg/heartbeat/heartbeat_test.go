package heartbeat_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/heartbeat"
	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/store"
	sqliteStore "github.com/origo-labs/soulcore-go/pkg/store/sqlite"
)

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	p.calls++
	return p.reply, p.err
}

func (p *stubProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	p.calls++
	return p.reply, p.err
}

func (p *stubProvider) Close() error { return nil }

type recordingDeliverer struct {
	channels []string
	contents []string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, channelID, content string) error {
	d.channels = append(d.channels, channelID)
	d.contents = append(d.contents, content)
	return nil
}

func setupHeartbeatTest(t *testing.T, executor, scribe, sentry llm.Provider) (*heartbeat.Heartbeat, store.Store, *recordingDeliverer) {
	t.Helper()

	st, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "test_heartbeat.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	deliverer := &recordingDeliverer{}
	hb := heartbeat.New(st, executor, scribe, sentry, deliverer, node, heartbeat.Config{
		Interval:      time.Minute,
		ExecutorModel: "exec-model",
		ScribeModel:   "scribe-model",
	}, zap.NewNop())

	return hb, st, deliverer
}

func TestPollOnceCompletesTask(t *testing.T) {
	executor := &stubProvider{reply: "done, nothing noteworthy"}
	scribe := &stubProvider{reply: "done"}
	hb, st, _ := setupHeartbeatTest(t, executor, scribe, &stubProvider{})
	ctx := context.Background()

	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID: 1, Description: "summarize the open questions", Priority: 4,
	}))

	hb.PollOnce(ctx)

	task, err := st.GetTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)
	assert.Equal(t, 1, executor.calls, "priority 4 runs on the executor model")
	assert.Zero(t, scribe.calls)

	// Outcome lands in the reflection log.
	entries, err := st.RecentReflections(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task-exec", entries[0].Protocol)
	assert.Equal(t, "exec-model", entries[0].Model, "the entry records which backend ran the task")
}

func TestPollOnceLowPriorityUsesScribe(t *testing.T) {
	executor := &stubProvider{reply: "unused"}
	scribe := &stubProvider{reply: "done quietly"}
	hb, st, _ := setupHeartbeatTest(t, executor, scribe, &stubProvider{})
	ctx := context.Background()

	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID: 1, Description: "tidy up the reflection log", Priority: 1,
	}))

	hb.PollOnce(ctx)

	assert.Zero(t, executor.calls)
	assert.Equal(t, 1, scribe.calls)

	entries, err := st.RecentReflections(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scribe-model", entries[0].Model)
}

func TestPollOnceFailureMarksTaskFailed(t *testing.T) {
	executor := &stubProvider{err: errors.New("backend unavailable")}
	hb, st, _ := setupHeartbeatTest(t, executor, &stubProvider{}, &stubProvider{})
	ctx := context.Background()

	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID: 1, Description: "a task that cannot run", Priority: 5,
	}))

	hb.PollOnce(ctx)

	task, err := st.GetTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, task.Status, "a failed task must not stay pending or running")
}

func TestPollOnceNotify(t *testing.T) {
	executor := &stubProvider{reply: "[NOTIFY] your appointment is in one hour"}
	hb, st, deliverer := setupHeartbeatTest(t, executor, &stubProvider{}, &stubProvider{})
	ctx := context.Background()

	require.NoError(t, st.EnqueueTask(ctx, &store.Task{
		ID: 1, ConversationID: "conv-a", Description: "remind about the appointment", Priority: 5,
	}))

	hb.PollOnce(ctx)

	require.Len(t, deliverer.channels, 1)
	assert.Equal(t, "conv-a", deliverer.channels[0])
	assert.Equal(t, "your appointment is in one hour", deliverer.contents[0],
		"the notify marker is stripped before delivery")
}

func TestPollOnceEmptyQueue(t *testing.T) {
	executor := &stubProvider{}
	hb, _, _ := setupHeartbeatTest(t, executor, &stubProvider{}, &stubProvider{})

	hb.PollOnce(context.Background())
	assert.Zero(t, executor.calls, "an empty queue must not touch any backend")
}

func TestStartStopIdempotent(t *testing.T) {
	hb, _, _ := setupHeartbeatTest(t, &stubProvider{}, &stubProvider{}, &stubProvider{})

	hb.Start()
	hb.Start()
	hb.Stop()
	hb.Stop()
}
