package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/memory"
	"github.com/origo-labs/soulcore-go/pkg/rerank"
	"github.com/origo-labs/soulcore-go/pkg/retrieval"
	"github.com/origo-labs/soulcore-go/pkg/store"
)

// freedomModeKey is the runtime setting that widens memory assembly from the
// current conversation to the model's notes across all conversations.
const freedomModeKey = "freedom_mode"

// metaMarkers flag utility traffic generated by chat frontends (title
// generation, follow-up suggestions) rather than the user. Matching is
// case-insensitive substring.
var metaMarkers = []string{"### task:", "follow-up", "generate title"}

// isMetaMessage reports whether a message is frontend utility traffic.
// Meta turns skip retrieval and must not pollute the notepad.
func isMetaMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range metaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Kernel is the per-message orchestration pipeline. One Kernel serves all
// conversations; every method is safe for concurrent use.
type Kernel struct {
	store     store.Store
	provider  llm.Provider
	router    llm.Provider
	registry  *retrieval.Registry
	cache     *retrieval.Cache
	filter    *rerank.Filter
	assembler *memory.Assembler
	postproc  *PostProcessor
	prompts   *PromptState
	node      *snowflake.Node
	cfg       RouterConfig
	log       *zap.Logger

	// wg tracks background post-processing goroutines so shutdown can drain
	// them before the store closes.
	wg sync.WaitGroup
}

// KernelDeps bundles the collaborators a Kernel needs.
type KernelDeps struct {
	Store     store.Store
	Provider  llm.Provider
	Router    llm.Provider
	Registry  *retrieval.Registry
	Cache     *retrieval.Cache
	Filter    *rerank.Filter
	Assembler *memory.Assembler
	Prompts   *PromptState
	Node      *snowflake.Node
	RouterCfg RouterConfig
	Logger    *zap.Logger
}

// NewKernel creates a kernel from its dependencies. Filter may be nil when
// the relevance filter is disabled; Router may be nil, in which case the
// primary provider makes retrieval decisions.
func NewKernel(deps *KernelDeps) *Kernel {
	router := deps.Router
	if router == nil {
		router = deps.Provider
	}

	return &Kernel{
		store:     deps.Store,
		provider:  deps.Provider,
		router:    router,
		registry:  deps.Registry,
		cache:     deps.Cache,
		filter:    deps.Filter,
		assembler: deps.Assembler,
		postproc:  NewPostProcessor(deps.Store, deps.Node, deps.Prompts.PersonaName(), deps.Logger.Named("postproc")),
		prompts:   deps.Prompts,
		node:      deps.Node,
		cfg:       deps.RouterCfg,
		log:       deps.Logger,
	}
}

// ProcessMessage runs one conversational turn and returns the user-visible
// reply.
//
// The pipeline: memory assembly starts concurrently, the router decides
// whether retrieval is needed, retrieval (cache, search, relevance filter,
// condensing) runs if so, the primary model generates, and directive
// post-processing is handed to a background goroutine so the reply is not
// delayed by storage writes.
func (k *Kernel) ProcessMessage(ctx context.Context, conversationID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", NewCoreError("ProcessMessage", ErrEmptyMessage)
	}

	start := time.Now()

	isMeta := isMetaMessage(message)
	crossConversation := k.freedomMode(ctx)

	memoryCh := make(chan string, 1)
	go func() {
		memoryCh <- k.assembler.Assemble(ctx, conversationID, crossConversation)
	}()

	// Utility traffic never warrants a web search; the router is not even
	// consulted.
	var retrieved string
	if !isMeta && k.shouldRetrieve(ctx, message) {
		retrieved = k.retrieve(ctx, message)
	}

	memoryBlock := <-memoryCh

	system := k.prompts.SystemPrompt(memoryBlock, retrieved)
	raw, err := k.provider.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: message},
	})
	if err != nil {
		return "", NewCoreError("ProcessMessage", fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	k.appendTranscript(ctx, conversationID, message, raw)

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				k.log.Error("post-processing panicked", zap.Any("panic", r))
			}
		}()
		pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		k.postproc.Process(pctx, raw, conversationID, isMeta)
	}()

	reply := StripSideChannels(raw)

	k.log.Info("turn completed",
		zap.String("conversation", conversationID),
		zap.Bool("retrieved", retrieved != ""),
		zap.Duration("elapsed", time.Since(start)))

	return reply, nil
}

// Wait blocks until all background post-processing has drained. Called during
// shutdown, before the store closes.
func (k *Kernel) Wait() {
	k.wg.Wait()
}

// freedomMode reads the memory-scoping switch from runtime settings.
func (k *Kernel) freedomMode(ctx context.Context) bool {
	value, err := k.store.GetSetting(ctx, freedomModeKey, "false")
	if err != nil {
		k.log.Warn("freedom_mode read failed", zap.Error(err))
		return false
	}
	return value == "true"
}

// shouldRetrieve asks the router model whether the message needs external
// retrieval. Messages below the word threshold never do. A failed decision
// call falls back to the configured default rather than failing the turn.
func (k *Kernel) shouldRetrieve(ctx context.Context, message string) bool {
	if len(strings.Fields(message)) < k.cfg.MinWords {
		return false
	}

	answer, err := k.router.Generate(ctx, DecisionPrompt(message),
		llm.WithTemperature(0.0), llm.WithMaxTokens(10))
	if err != nil {
		k.log.Warn("retrieval decision failed, using default",
			zap.Bool("default_search", k.cfg.DefaultSearch),
			zap.Error(err))
		return k.cfg.DefaultSearch
	}

	return strings.Contains(strings.ToUpper(answer), "SEARCH")
}

// retrieve produces the retrieved-context block for a message: cache lookup,
// then search, relevance filter, and condensing on a miss. Retrieval never
// fails the turn; any error degrades to an empty context block.
func (k *Kernel) retrieve(ctx context.Context, message string) string {
	if cached, ok := k.cache.Get(ctx, message); ok {
		k.log.Debug("retrieval cache hit")
		return cached
	}

	module, err := k.registry.Get("search")
	if err != nil {
		k.log.Warn("retrieval skipped", zap.Error(err))
		return ""
	}

	results, err := module.Execute(ctx, retrieval.NormalizeQuery(message))
	if err != nil {
		k.log.Warn("search failed", zap.Error(err))
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	if k.filter != nil {
		results = k.filter.Apply(ctx, message, results)
		if len(results) == 0 {
			k.log.Debug("all passages dropped by relevance filter")
			return ""
		}
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] (%s)\n%s\n\n", r.Title, r.URL, r.Content)
	}

	condensed, err := k.router.Generate(ctx, CondensePrompt(message, b.String()),
		llm.WithTemperature(0.3))
	if err != nil {
		k.log.Warn("condensing failed, using raw results", zap.Error(err))
		condensed = b.String()
	}

	k.cache.Put(ctx, message, condensed)
	return condensed
}

// appendTranscript records both halves of the turn. Transcript writes are
// best-effort; the reply has priority over bookkeeping.
func (k *Kernel) appendTranscript(ctx context.Context, conversationID, message, raw string) {
	if conversationID == "" {
		return
	}

	if err := k.store.AppendMessage(ctx, &store.ChannelMessage{
		ID:        k.node.Generate().Int64(),
		ChannelID: conversationID,
		Role:      "user",
		Content:   message,
	}); err != nil {
		k.log.Warn("transcript write failed", zap.Error(err))
	}

	if err := k.store.AppendMessage(ctx, &store.ChannelMessage{
		ID:        k.node.Generate().Int64(),
		ChannelID: conversationID,
		Role:      "assistant",
		Content:   StripSideChannels(raw),
	}); err != nil {
		k.log.Warn("transcript write failed", zap.Error(err))
	}
}
