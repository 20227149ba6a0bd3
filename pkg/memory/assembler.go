// Package memory assembles the model's persisted memory into prompt context
// and distills short-term notes into long-term facts.
package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/origo-labs/soulcore-go/pkg/store"
)

// defaultUnscopedNoteLimit caps cross-conversation note recall when no
// explicit limit is configured.
const defaultUnscopedNoteLimit = 5

// Assembler builds the memory block injected into the system prompt. Notes
// and facts are fetched concurrently; a storage failure on either leg yields
// an empty section for that leg rather than a failed turn.
type Assembler struct {
	store     store.Store
	model     string
	noteLimit int
	log       *zap.Logger
}

// NewAssembler creates an assembler for one model identity.
func NewAssembler(st store.Store, model string, noteLimit int, log *zap.Logger) *Assembler {
	if noteLimit <= 0 {
		noteLimit = defaultUnscopedNoteLimit
	}
	return &Assembler{
		store:     st,
		model:     model,
		noteLimit: noteLimit,
		log:       log,
	}
}

// Assemble returns the memory context block for one turn.
//
// In the default mode notes are scoped to the conversation, in chronological
// order. With crossConversation set (the freedom_mode runtime flag), the
// model's most recent notes across all conversations are used instead,
// newest first, capped at the configured limit. A missing conversation ID
// also falls back to model scoping. Facts are always global.
func (a *Assembler) Assemble(ctx context.Context, conversationID string, crossConversation bool) string {
	var notes []*store.Note
	var facts []*store.Fact

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if crossConversation || conversationID == "" {
			notes, err = a.store.NotesByModel(gctx, a.model, a.noteLimit)
		} else {
			notes, err = a.store.NotesByConversation(gctx, conversationID)
		}
		if err != nil {
			a.log.Warn("note recall failed", zap.Error(err))
			notes = nil
		}
		return nil
	})

	g.Go(func() error {
		var err error
		facts, err = a.store.Facts(gctx, "")
		if err != nil {
			a.log.Warn("fact recall failed", zap.Error(err))
			facts = nil
		}
		return nil
	})

	_ = g.Wait()

	return render(notes, facts)
}

// render formats the recalled memory as a prompt section. Both sections
// empty produces an empty string so the prompt carries no dead header.
func render(notes []*store.Note, facts []*store.Fact) string {
	var b strings.Builder

	if len(facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			b.WriteString(fmt.Sprintf("- %s %s %s\n", f.Subject, f.Predicate, f.Object))
		}
	}

	if len(notes) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Your notes:\n")
		for _, n := range notes {
			if n.Topic != "" {
				b.WriteString(fmt.Sprintf("- [%s] %s\n", n.Topic, n.Content))
			} else {
				b.WriteString(fmt.Sprintf("- %s\n", n.Content))
			}
		}
	}

	return b.String()
}
