package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/llm"
	"github.com/origo-labs/soulcore-go/pkg/store"
)

// extractPrompt instructs the distillation model. One triple per line keeps
// parsing trivial and tolerant of chatter around the list.
const extractPrompt = `You distill conversation notes into durable facts.
Read the notes below and output only facts worth remembering permanently.
Output one fact per line in exactly this format:

subject | predicate | object | confidence

where confidence is a number between 0.0 and 1.0. Output nothing else.
If no note contains a durable fact, output the single word NONE.

Notes:
%s`

// Extractor distills a conversation's short-term notes into long-term fact
// triples via an LLM pass.
type Extractor struct {
	store    store.Store
	provider llm.Provider
	node     *snowflake.Node
	log      *zap.Logger
}

// NewExtractor creates a fact extractor.
func NewExtractor(st store.Store, provider llm.Provider, node *snowflake.Node, log *zap.Logger) *Extractor {
	return &Extractor{
		store:    st,
		provider: provider,
		node:     node,
		log:      log,
	}
}

// Distill runs one extraction pass over the notes of a conversation and
// persists the new facts. Facts already present (same subject and predicate,
// case-insensitive) are skipped. It returns the number of facts written.
func (e *Extractor) Distill(ctx context.Context, conversationID string) (int, error) {
	notes, err := e.store.NotesByConversation(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("Distill: %w", err)
	}
	if len(notes) == 0 {
		return 0, nil
	}

	var b strings.Builder
	for _, n := range notes {
		b.WriteString("- ")
		b.WriteString(n.Content)
		b.WriteString("\n")
	}

	raw, err := e.provider.Generate(ctx, fmt.Sprintf(extractPrompt, b.String()),
		llm.WithTemperature(0.2))
	if err != nil {
		return 0, fmt.Errorf("Distill: %w", err)
	}

	candidates := parseTriples(raw)
	if len(candidates) == 0 {
		return 0, nil
	}

	existing, err := e.store.Facts(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("Distill: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[factKey(f.Subject, f.Predicate)] = true
	}

	written := 0
	for _, f := range candidates {
		key := factKey(f.Subject, f.Predicate)
		if seen[key] {
			continue
		}
		f.ID = e.node.Generate().Int64()
		f.SourceConversation = conversationID
		f.UpdatedAt = time.Now()
		if err := e.store.AddFact(ctx, f); err != nil {
			e.log.Warn("fact write failed", zap.String("subject", f.Subject), zap.Error(err))
			continue
		}
		seen[key] = true
		written++

		// High-confidence facts double as stable attribute records.
		if f.Confidence >= 0.9 {
			if err := e.store.UpsertEntity(ctx, &store.Entity{
				Key:   f.Subject + ":" + f.Predicate,
				Type:  "attribute",
				Value: f.Object,
			}); err != nil {
				e.log.Warn("attribute upsert failed", zap.String("subject", f.Subject), zap.Error(err))
			}
		}
	}

	return written, nil
}

// parseTriples extracts well-formed fact lines from the model output. Lines
// that do not split into four pipe fields are ignored.
func parseTriples(raw string) []*store.Fact {
	var facts []*store.Fact
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			continue
		}
		subject := strings.TrimSpace(parts[0])
		predicate := strings.TrimSpace(parts[1])
		object := strings.TrimSpace(parts[2])
		if subject == "" || predicate == "" || object == "" {
			continue
		}
		confidence, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || confidence < 0 || confidence > 1 {
			confidence = 0.5
		}
		facts = append(facts, &store.Fact{
			Subject:    subject,
			Predicate:  predicate,
			Object:     object,
			Confidence: confidence,
		})
	}
	return facts
}

// factKey builds the dedup key for a fact.
func factKey(subject, predicate string) string {
	return strings.ToLower(subject) + "\x00" + strings.ToLower(predicate)
}
