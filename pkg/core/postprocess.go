package core

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/store"
)

// sideChannelTags are the directive tags a reply may carry, in scan order.
var sideChannelTags = []string{"notepad", "task", "logic"}

// taskPlaceholders are literal strings a model sometimes echoes back from the
// tag instructions instead of a real task. Such directives are discarded.
var taskPlaceholders = map[string]bool{
	"description":      true,
	"task":             true,
	"todo":             true,
	"task description": true,
}

// minTaskLength is the minimum rune count for a task description to be
// considered real.
const minTaskLength = 12

// defaultTaskDelay schedules a task with no explicit time one day out.
const defaultTaskDelay = 24 * time.Hour

// Section is one extracted side-channel directive.
type Section struct {
	// Tag is the directive kind ("notepad", "task", "logic").
	Tag string

	// Content is the text between the tags.
	Content string
}

// indexFold is a case-insensitive strings.Index for ASCII patterns.
// Models are inconsistent about tag casing, so the scan cannot be exact.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// ExtractSections scans raw for side-channel directives and returns them in
// order of appearance. Tag matching ignores case. An opening tag without its
// closing tag is treated as running to the end of the text, which keeps a
// truncated model reply from leaking a half-written directive to the user.
func ExtractSections(raw string) []Section {
	var sections []Section
	for _, tag := range sideChannelTags {
		open := "<" + tag + ">"
		closing := "</" + tag + ">"

		rest := raw
		for {
			start := indexFold(rest, open)
			if start < 0 {
				break
			}
			body := rest[start+len(open):]
			end := indexFold(body, closing)
			var content string
			if end < 0 {
				content = body
				rest = ""
			} else {
				content = body[:end]
				rest = body[end+len(closing):]
			}
			content = strings.TrimSpace(content)
			if content != "" {
				sections = append(sections, Section{Tag: tag, Content: content})
			}
			if end < 0 {
				break
			}
		}
	}
	return sections
}

// StripSideChannels removes all side-channel directives from raw, leaving the
// user-visible reply. Tag matching ignores case. An unterminated directive is
// stripped to the end of the text.
func StripSideChannels(raw string) string {
	s := raw
	for _, tag := range sideChannelTags {
		open := "<" + tag + ">"
		closing := "</" + tag + ">"

		for {
			start := indexFold(s, open)
			if start < 0 {
				break
			}
			end := indexFold(s[start:], closing)
			if end < 0 {
				s = s[:start]
				break
			}
			s = s[:start] + s[start+end+len(closing):]
		}
	}
	return strings.TrimSpace(s)
}

// PostProcessor persists the side-channel directives of a reply: notepad
// sections become short-term notes, task sections become queued tasks, and
// logic sections land in the reflection log.
type PostProcessor struct {
	store store.Store
	node  *snowflake.Node
	model string
	log   *zap.Logger
}

// NewPostProcessor creates a post-processor writing under one model identity.
func NewPostProcessor(st store.Store, node *snowflake.Node, model string, log *zap.Logger) *PostProcessor {
	return &PostProcessor{
		store: st,
		node:  node,
		model: model,
		log:   log,
	}
}

// Process extracts and persists all directives found in raw. Failures on one
// directive are logged and do not stop the rest; a reply's visible half has
// already been delivered by the time this runs.
//
// For meta turns (isMeta) notepad directives are dropped: a title-generation
// or follow-up request is frontend traffic and its notes are noise.
func (p *PostProcessor) Process(ctx context.Context, raw, conversationID string, isMeta bool) {
	for _, section := range ExtractSections(raw) {
		switch section.Tag {
		case "notepad":
			p.processNote(ctx, section.Content, conversationID, isMeta)
		case "task":
			p.processTask(ctx, section.Content, conversationID)
		case "logic":
			p.processLogic(ctx, section.Content)
		}
	}
}

// processNote appends a note unless the turn is meta or an identical note
// already exists in the conversation. Notes are append-only; this exact-match
// check on the writer side is the only dedup.
func (p *PostProcessor) processNote(ctx context.Context, content, conversationID string, isMeta bool) {
	if isMeta {
		p.log.Debug("meta-turn note dropped", zap.String("conversation", conversationID))
		return
	}

	existing, err := p.store.NotesByConversation(ctx, conversationID)
	if err != nil {
		p.log.Warn("note dedup lookup failed", zap.Error(err))
	}
	for _, n := range existing {
		if n.Content == content {
			p.log.Debug("duplicate note skipped", zap.String("conversation", conversationID))
			return
		}
	}

	err = p.store.AddNote(ctx, &store.Note{
		ID:             p.node.Generate().Int64(),
		ConversationID: conversationID,
		Model:          p.model,
		Topic:          "Self-Notepad",
		Content:        content,
		Importance:     0.5,
	})
	if err != nil {
		p.log.Warn("note write failed", zap.Error(err))
	}
}

// processTask parses a "description | priority | time" directive and enqueues
// it. Missing priority defaults to 1; missing time schedules one day out.
// Template-like descriptions are discarded entirely.
func (p *PostProcessor) processTask(ctx context.Context, content, conversationID string) {
	parts := strings.Split(content, "|")

	description := strings.TrimSpace(parts[0])
	if utf8.RuneCountInString(description) < minTaskLength || taskPlaceholders[strings.ToLower(description)] {
		p.log.Debug("template-like task discarded", zap.String("description", description))
		return
	}

	priority := 1
	if len(parts) > 1 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n >= 1 && n <= 5 {
			priority = n
		}
	}

	scheduled := time.Now().Add(defaultTaskDelay)
	if len(parts) > 2 {
		if t, err := parseTaskTime(strings.TrimSpace(parts[2])); err == nil {
			scheduled = t
		}
	}

	err := p.store.EnqueueTask(ctx, &store.Task{
		ID:             p.node.Generate().Int64(),
		ConversationID: conversationID,
		Description:    description,
		Priority:       priority,
		Status:         store.TaskPending,
		ScheduledFor:   &scheduled,
	})
	if err != nil {
		p.log.Warn("task enqueue failed", zap.Error(err))
	}
}

// processLogic records private reasoning in the reflection log.
func (p *PostProcessor) processLogic(ctx context.Context, content string) {
	err := p.store.AddReflection(ctx, &store.Reflection{
		ID:       p.node.Generate().Int64(),
		Model:    p.model,
		Protocol: "private-logic",
		Content:  content,
		Priority: 1,
	})
	if err != nil {
		p.log.Warn("logic write failed", zap.Error(err))
	}
}

// parseTaskTime accepts the timestamp formats models actually produce.
func parseTaskTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range formats {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
