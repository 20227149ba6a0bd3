// Package heartbeat runs the background loop of the engine: a periodic tick
// that executes due tasks from the queue and, at a slower cadence, runs an
// idle reflection pass.
package heartbeat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/delivery"
	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/store"
)

// notifyMarker flags task output that should be delivered to the task's
// channel instead of only being logged.
const notifyMarker = "[NOTIFY]"

// executorPriorityMin is the lowest priority routed to the primary model;
// anything below runs on the scribe model.
const executorPriorityMin = 3

// taskPromptTemplate frames a queued task for execution.
const taskPromptTemplate = `Execute this background task and report the outcome in 1-3 sentences.
If the user should be told about the result, start your report with %s.

Task: %s`

// sentryPromptTemplate is the cheap gate before a reflection pass.
const sentryPromptTemplate = `You are the attention gate of an idle system.
Recent internal log entries:
%s

Is there anything here worth a moment of reflection right now?
Answer with exactly one word: YES or NO.`

// scribePromptTemplate produces the actual reflection entry.
const scribePromptTemplate = `You are writing one line in a private internal log.
Recent entries:
%s

Write a single short reflection in shorthand, then a pipe and a priority 0-5:

thought in shorthand | priority`

// Config contains heartbeat loop configuration.
type Config struct {
	// Interval is the tick period.
	Interval time.Duration

	// ReflectEvery triggers a reflection pass every Nth tick; zero disables
	// reflection.
	ReflectEvery int

	// Protocol is the protocol tag written on reflection entries.
	Protocol string

	// ExecutorModel is the model name recorded on high-priority task entries.
	ExecutorModel string

	// ScribeModel is the model name recorded on reflections and low-priority
	// task entries.
	ScribeModel string
}

// Heartbeat is the background scheduler. It owns the tick loop, task
// execution, and the two-stage reflection pass.
type Heartbeat struct {
	store     store.Store
	executor  llm.Provider
	scribe    llm.Provider
	sentry    llm.Provider
	deliverer delivery.Deliverer
	node      *snowflake.Node
	cfg       Config
	log       *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// wg tracks reflection passes, which run concurrently with the tick loop
	// so a slow model never delays task polling.
	wg sync.WaitGroup
}

// New creates a heartbeat. Executor handles high-priority tasks, scribe
// handles the rest and writes reflections, sentry gates reflection passes.
func New(st store.Store, executor, scribe, sentry llm.Provider, deliverer delivery.Deliverer, node *snowflake.Node, cfg Config, log *zap.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "idle-reflection"
	}

	return &Heartbeat{
		store:     st,
		executor:  executor,
		scribe:    scribe,
		sentry:    sentry,
		deliverer: deliverer,
		node:      node,
		cfg:       cfg,
		log:       log,
	}
}

// Start launches the tick loop. Calling Start on a running heartbeat is a
// no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	go h.run()
}

// Stop halts the tick loop and waits for in-flight work to drain.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	done := h.done
	h.mu.Unlock()

	<-done
	h.wg.Wait()
}

// run is the tick loop.
func (h *Heartbeat) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			tick++
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Interval)
			h.PollOnce(ctx)
			cancel()

			if h.cfg.ReflectEvery > 0 && tick%h.cfg.ReflectEvery == 0 {
				h.wg.Add(1)
				go func() {
					defer h.wg.Done()
					rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Minute)
					defer rcancel()
					h.reflect(rctx)
				}()
			}
		}
	}
}

// PollOnce executes at most one due task. The claim is a compare-and-set on
// task status, so concurrent schedulers over one store never double-run a
// task. Execution errors mark the task failed and are otherwise swallowed;
// the loop must survive any single bad task.
func (h *Heartbeat) PollOnce(ctx context.Context) {
	task, err := h.store.NextDueTask(ctx, time.Now())
	if err != nil {
		h.log.Warn("task poll failed", zap.Error(err))
		return
	}
	if task == nil {
		return
	}

	claimed, err := h.store.ClaimTask(ctx, task.ID)
	if err != nil {
		h.log.Warn("task claim failed", zap.Int64("task", task.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	h.log.Info("executing task",
		zap.Int64("task", task.ID),
		zap.Int("priority", task.Priority))

	if err := h.execute(ctx, task); err != nil {
		h.log.Warn("task execution failed", zap.Int64("task", task.ID), zap.Error(err))
		if err := h.store.SetTaskStatus(ctx, task.ID, store.TaskFailed); err != nil {
			h.log.Warn("task status update failed", zap.Int64("task", task.ID), zap.Error(err))
		}
		return
	}

	if err := h.store.SetTaskStatus(ctx, task.ID, store.TaskCompleted); err != nil {
		h.log.Warn("task status update failed", zap.Int64("task", task.ID), zap.Error(err))
	}
}

// execute runs one claimed task on the backend its priority selects and
// records the outcome in the reflection log. Output carrying the notify
// marker is delivered to the task's channel.
func (h *Heartbeat) execute(ctx context.Context, task *store.Task) error {
	provider := h.scribe
	model := h.cfg.ScribeModel
	if task.Priority >= executorPriorityMin {
		provider = h.executor
		model = h.cfg.ExecutorModel
	}

	output, err := provider.Generate(ctx, fmt.Sprintf(taskPromptTemplate, notifyMarker, task.Description))
	if err != nil {
		return err
	}

	if idx := strings.Index(output, notifyMarker); idx >= 0 {
		message := strings.TrimSpace(strings.Replace(output, notifyMarker, "", 1))
		if err := h.deliverer.Deliver(ctx, task.ConversationID, message); err != nil {
			h.log.Warn("notification delivery failed", zap.Int64("task", task.ID), zap.Error(err))
		}
	}

	if err := h.store.AddReflection(ctx, &store.Reflection{
		ID:       h.node.Generate().Int64(),
		Model:    model,
		Protocol: "task-exec",
		Content:  output,
		Priority: task.Priority,
	}); err != nil {
		h.log.Warn("task reflection write failed", zap.Int64("task", task.ID), zap.Error(err))
	}

	return nil
}

// reflect runs the two-stage idle reflection: the sentry model decides
// whether a pass is worth it, and only then does the scribe model write an
// entry. The cheap gate keeps idle cycles from burning the larger model.
func (h *Heartbeat) reflect(ctx context.Context) {
	recent, err := h.store.RecentReflections(ctx, 10)
	if err != nil {
		h.log.Warn("reflection log read failed", zap.Error(err))
		return
	}

	var b strings.Builder
	for _, r := range recent {
		b.WriteString("- ")
		b.WriteString(r.Content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("(empty)\n")
	}

	gate, err := h.sentry.Generate(ctx, fmt.Sprintf(sentryPromptTemplate, b.String()),
		llm.WithTemperature(0.0), llm.WithMaxTokens(5))
	if err != nil {
		h.log.Warn("reflection gate failed", zap.Error(err))
		return
	}
	if !strings.Contains(strings.ToUpper(gate), "YES") {
		h.log.Debug("reflection pass skipped by gate")
		return
	}

	entry, err := h.scribe.Generate(ctx, fmt.Sprintf(scribePromptTemplate, b.String()),
		llm.WithTemperature(0.7), llm.WithMaxTokens(100))
	if err != nil {
		h.log.Warn("reflection generation failed", zap.Error(err))
		return
	}

	content, priority := parseReflection(entry)
	if content == "" {
		return
	}

	if err := h.store.AddReflection(ctx, &store.Reflection{
		ID:       h.node.Generate().Int64(),
		Model:    h.cfg.ScribeModel,
		Protocol: h.cfg.Protocol,
		Content:  content,
		Priority: priority,
	}); err != nil {
		h.log.Warn("reflection write failed", zap.Error(err))
		return
	}

	// The last reflection doubles as a liveness record.
	if err := h.store.UpsertEntity(ctx, &store.Entity{
		Key:   "last_reflection",
		Type:  "system",
		Value: time.Now().Format(time.RFC3339),
	}); err != nil {
		h.log.Warn("liveness record update failed", zap.Error(err))
	}
}

// parseReflection splits "thought | priority" output, defaulting the priority
// to 1 and clamping it to 0-5.
func parseReflection(raw string) (string, int) {
	raw = strings.TrimSpace(raw)

	content := raw
	priority := 1

	if idx := strings.LastIndex(raw, "|"); idx >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(raw[idx+1:])); err == nil {
			content = strings.TrimSpace(raw[:idx])
			priority = n
		}
	}

	if priority < 0 {
		priority = 0
	}
	if priority > 5 {
		priority = 5
	}

	return content, priority
}
