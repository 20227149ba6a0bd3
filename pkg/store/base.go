// Package store defines the persistence contract for the soulcore engine.
//
// The Store is the sole owner of all persisted state: configuration settings,
// the TTL-keyed search cache, short-term conversation notes, long-term fact
// triples, entity records, the reflection log, the task queue, and channel
// transcripts. Every other component holds at most a transient in-memory copy
// for the duration of one operation.
//
// Backends exist for SQLite (embedded default), MySQL, and PostgreSQL.
package store

import (
	"context"
	"time"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

// Task lifecycle states. Transitions run pending -> running -> completed or
// failed, and only the heartbeat loop performs them.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// CacheEntry is a cached search result keyed by a content hash of the
// normalized query. An entry is logically absent once the current time passes
// ExpiresAt, even while the row still exists; the next save for the same hash
// overwrites it.
type CacheEntry struct {
	// QueryHash is the stable hash of the normalized query (unique key).
	QueryHash string `json:"query_hash"`

	// Query is the raw query text the entry was created for.
	Query string `json:"query"`

	// Result is the serialized result payload.
	Result string `json:"result"`

	// ExpiresAt is the expiry timestamp.
	ExpiresAt time.Time `json:"expires_at"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}

// Note is a short-term conversation note. Notes are append-only; duplicate
// avoidance is the writer's responsibility, not a storage constraint.
type Note struct {
	// ID is the unique identifier of the note.
	ID int64 `json:"id"`

	// ConversationID scopes the note to one dialogue thread.
	ConversationID string `json:"conversation_id"`

	// Model is the identity of the model that produced the note.
	Model string `json:"model"`

	// Topic is a free-form topic tag (e.g. "Self-Notepad").
	Topic string `json:"topic"`

	// Content is the note text.
	Content string `json:"content"`

	// Importance is a 0.0-1.0 relevance score assigned by the writer.
	Importance float64 `json:"importance"`

	// CreatedAt is when the note was written.
	CreatedAt time.Time `json:"created_at"`
}

// Fact is a long-term knowledge triple. Facts are treated as permanent unless
// explicitly superseded.
type Fact struct {
	// ID is the unique identifier of the fact.
	ID int64 `json:"id"`

	// Subject is who or what the fact is about.
	Subject string `json:"subject"`

	// Predicate is the relation.
	Predicate string `json:"predicate"`

	// Object is the detail of the relation.
	Object string `json:"object"`

	// Confidence is a 0.0-1.0 reliability index.
	Confidence float64 `json:"confidence"`

	// SourceConversation is the conversation the fact was distilled from.
	SourceConversation string `json:"source_conversation,omitempty"`

	// UpdatedAt is when the fact was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is a key/value record with upsert semantics (insert or
// update-on-conflict by key).
type Entity struct {
	// Key is the unique name of the record.
	Key string `json:"key"`

	// Type classifies the record (e.g. "model", "attribute").
	Type string `json:"type"`

	// Value is the record payload.
	Value string `json:"value"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Reflection is one entry in the append-only internal reflection log.
type Reflection struct {
	// ID is the unique identifier of the entry.
	ID int64 `json:"id"`

	// Model is the model that produced the reflection.
	Model string `json:"model"`

	// Protocol is the protocol tag the entry was recorded under.
	Protocol string `json:"protocol"`

	// Content is the raw reflection text.
	Content string `json:"content"`

	// Priority is the parsed priority marker (0-5).
	Priority int `json:"priority"`

	// VRAMUsage is a resource-usage metric recorded with the entry.
	VRAMUsage float64 `json:"vram_usage"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}

// Task is one entry in the scheduled task queue.
type Task struct {
	// ID is the unique identifier of the task.
	ID int64 `json:"id"`

	// ConversationID is the conversation/channel the task belongs to and the
	// delivery target for notifications produced by its execution.
	ConversationID string `json:"conversation_id"`

	// Description is the task content parsed out of a task directive.
	Description string `json:"description"`

	// Priority orders execution; higher runs first and selects a more capable
	// backend.
	Priority int `json:"priority"`

	// Status is the lifecycle state.
	Status TaskStatus `json:"status"`

	// ScheduledFor is the earliest execution time; nil means immediately due.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at"`
}

// ChannelMessage is one line of a channel's persisted transcript.
type ChannelMessage struct {
	// ID is the unique identifier of the message.
	ID int64 `json:"id"`

	// ChannelID is the conversation/channel the message belongs to.
	ChannelID string `json:"channel_id"`

	// Role is the message role ("assistant", "user", "system").
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence interface every backend implements.
//
// All operations are atomic at row level; no cross-row transactions are
// required by the engine. Schema creation is idempotent and runs on every
// startup.
type Store interface {
	// GetSetting returns the value for key, or fallback when the key is absent.
	GetSetting(ctx context.Context, key, fallback string) (string, error)

	// SetSetting writes a setting, overwriting any existing value for key.
	SetSetting(ctx context.Context, key, value string) error

	// GetCachedSearch returns the cache entry for queryHash, or nil when no
	// row exists. Expiry is the caller's concern; the row is returned as-is.
	GetCachedSearch(ctx context.Context, queryHash string) (*CacheEntry, error)

	// SaveSearch upserts a cache entry by query hash; the newest write for an
	// identical hash always wins.
	SaveSearch(ctx context.Context, entry *CacheEntry) error

	// AddNote appends a short-term note.
	AddNote(ctx context.Context, note *Note) error

	// NotesByConversation returns all notes for one conversation in
	// chronological order.
	NotesByConversation(ctx context.Context, conversationID string) ([]*Note, error)

	// NotesByModel returns the most recent notes written by one model across
	// all conversations, newest first, capped at limit.
	NotesByModel(ctx context.Context, model string, limit int) ([]*Note, error)

	// DeleteNotes removes all notes for one conversation.
	DeleteNotes(ctx context.Context, conversationID string) error

	// AddFact appends a long-term fact.
	AddFact(ctx context.Context, fact *Fact) error

	// Facts returns all facts, or only those whose subject contains
	// subjectFilter when it is non-empty.
	Facts(ctx context.Context, subjectFilter string) ([]*Fact, error)

	// UpsertEntity inserts or updates an entity record by key.
	UpsertEntity(ctx context.Context, entity *Entity) error

	// GetEntity returns the entity record for key, or nil when absent.
	GetEntity(ctx context.Context, key string) (*Entity, error)

	// AddReflection appends a reflection log entry.
	AddReflection(ctx context.Context, entry *Reflection) error

	// RecentReflections returns the most recent reflection entries, newest
	// first, capped at limit.
	RecentReflections(ctx context.Context, limit int) ([]*Reflection, error)

	// EnqueueTask appends a task in status pending.
	EnqueueTask(ctx context.Context, task *Task) error

	// NextDueTask returns the highest-priority pending task whose scheduled
	// time is null or has passed, or nil when none is due.
	NextDueTask(ctx context.Context, now time.Time) (*Task, error)

	// ClaimTask atomically transitions a task from pending to running.
	// It reports false when the task was already claimed or is not pending,
	// which preserves at-most-one execution across scheduler instances.
	ClaimTask(ctx context.Context, id int64) (bool, error)

	// SetTaskStatus sets the status of a task.
	SetTaskStatus(ctx context.Context, id int64, status TaskStatus) error

	// GetTask returns a task by ID, or nil when absent.
	GetTask(ctx context.Context, id int64) (*Task, error)

	// AppendMessage appends a message to a channel's persisted transcript.
	AppendMessage(ctx context.Context, msg *ChannelMessage) error

	// Close closes the underlying database connection.
	Close() error
}
