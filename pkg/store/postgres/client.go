// Package postgres provides the PostgreSQL implementation of the store.
//
// The schema mirrors the SQLite backend; creation is idempotent and runs on
// every startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/origo-labs/soulcore-go/pkg/store"
)

// Client implements store.Store using PostgreSQL as the backend.
type Client struct {
	// db is the PostgreSQL database connection pool.
	db *sql.DB
}

// Config contains configuration for creating a PostgreSQL store.
type Config struct {
	// Host is the PostgreSQL server host.
	Host string

	// Port is the PostgreSQL server port.
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// Database is the database name.
	Database string

	// SSLMode is the sslmode connection parameter. Defaults to "disable".
	SSLMode string
}

// NewClient creates a new PostgreSQL store client.
//
// Parameters:
//   - cfg: Configuration containing connection parameters
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if connection or schema creation fails
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	client := &Client{db: db}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database schema. Safe to run on every startup.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS search_cache (
			query_hash TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			result TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS short_term_notes (
			id BIGINT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			model TEXT NOT NULL,
			topic TEXT,
			content TEXT NOT NULL,
			importance DOUBLE PRECISION DEFAULT 0.5,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_conversation ON short_term_notes (conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_model ON short_term_notes (model)`,
		`CREATE TABLE IF NOT EXISTS long_term_facts (
			id BIGINT PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			confidence DOUBLE PRECISION DEFAULT 0.5,
			source_conversation TEXT,
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			key TEXT PRIMARY KEY,
			type TEXT,
			value TEXT,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS reflection_log (
			id BIGINT PRIMARY KEY,
			model TEXT,
			protocol TEXT,
			content TEXT,
			priority INTEGER DEFAULT 1,
			vram DOUBLE PRECISION DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGINT PRIMARY KEY,
			conversation_id TEXT,
			description TEXT NOT NULL,
			priority INTEGER DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'pending',
			scheduled_for TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (status, priority)`,
		`CREATE TABLE IF NOT EXISTS channel_messages (
			id BIGINT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON channel_messages (channel_id)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// GetSetting returns the value for key, or fallback when the key is absent.
func (c *Client) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("GetSetting: %w", err)
	}
	return value, nil
}

// SetSetting writes a setting, overwriting any existing value for key.
func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("SetSetting: %w", err)
	}
	return nil
}

// GetCachedSearch returns the cache entry for queryHash, or nil when absent.
func (c *Client) GetCachedSearch(ctx context.Context, queryHash string) (*store.CacheEntry, error) {
	var entry store.CacheEntry
	err := c.db.QueryRowContext(ctx, `
		SELECT query_hash, query, result, expires_at, created_at
		FROM search_cache WHERE query_hash = $1
	`, queryHash).Scan(&entry.QueryHash, &entry.Query, &entry.Result, &entry.ExpiresAt, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetCachedSearch: %w", err)
	}
	return &entry, nil
}

// SaveSearch upserts a cache entry by query hash. Last writer wins.
func (c *Client) SaveSearch(ctx context.Context, entry *store.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO search_cache (query_hash, query, result, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (query_hash) DO UPDATE SET
			query = EXCLUDED.query,
			result = EXCLUDED.result,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`, entry.QueryHash, entry.Query, entry.Result, entry.ExpiresAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("SaveSearch: %w", err)
	}
	return nil
}

// AddNote appends a short-term note.
func (c *Client) AddNote(ctx context.Context, note *store.Note) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO short_term_notes (id, conversation_id, model, topic, content, importance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, note.ID, note.ConversationID, note.Model, note.Topic, note.Content, note.Importance, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("AddNote: %w", err)
	}
	return nil
}

// NotesByConversation returns all notes for one conversation, oldest first.
func (c *Client) NotesByConversation(ctx context.Context, conversationID string) ([]*store.Note, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, model, topic, content, importance, created_at
		FROM short_term_notes WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("NotesByConversation: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanNotes(rows)
}

// NotesByModel returns the most recent notes written by one model, newest
// first, capped at limit.
func (c *Client) NotesByModel(ctx context.Context, model string, limit int) ([]*store.Note, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, model, topic, content, importance, created_at
		FROM short_term_notes WHERE model = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("NotesByModel: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanNotes(rows)
}

// DeleteNotes removes all notes for one conversation.
func (c *Client) DeleteNotes(ctx context.Context, conversationID string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM short_term_notes WHERE conversation_id = $1", conversationID)
	if err != nil {
		return fmt.Errorf("DeleteNotes: %w", err)
	}
	return nil
}

// AddFact appends a long-term fact.
func (c *Client) AddFact(ctx context.Context, fact *store.Fact) error {
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO long_term_facts (id, subject, predicate, object, confidence, source_conversation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fact.ID, fact.Subject, fact.Predicate, fact.Object, fact.Confidence, fact.SourceConversation, fact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("AddFact: %w", err)
	}
	return nil
}

// Facts returns all facts, optionally filtered by a partial subject match.
func (c *Client) Facts(ctx context.Context, subjectFilter string) ([]*store.Fact, error) {
	query := `
		SELECT id, subject, predicate, object, confidence, source_conversation, updated_at
		FROM long_term_facts
	`
	var args []interface{}
	if subjectFilter != "" {
		query += " WHERE subject LIKE $1"
		args = append(args, "%"+subjectFilter+"%")
	}
	query += " ORDER BY updated_at ASC, id ASC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facts []*store.Fact
	for rows.Next() {
		var f store.Fact
		var source sql.NullString
		if err := rows.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.Confidence, &source, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("Facts: %w", err)
		}
		f.SourceConversation = source.String
		facts = append(facts, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Facts: %w", err)
	}
	return facts, nil
}

// UpsertEntity inserts or updates an entity record by key.
func (c *Client) UpsertEntity(ctx context.Context, entity *store.Entity) error {
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entities (key, type, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, entity.Key, entity.Type, entity.Value, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertEntity: %w", err)
	}
	return nil
}

// GetEntity returns the entity record for key, or nil when absent.
func (c *Client) GetEntity(ctx context.Context, key string) (*store.Entity, error) {
	var e store.Entity
	err := c.db.QueryRowContext(ctx, `
		SELECT key, type, value, updated_at FROM entities WHERE key = $1
	`, key).Scan(&e.Key, &e.Type, &e.Value, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEntity: %w", err)
	}
	return &e, nil
}

// AddReflection appends a reflection log entry.
func (c *Client) AddReflection(ctx context.Context, entry *store.Reflection) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO reflection_log (id, model, protocol, content, priority, vram, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Model, entry.Protocol, entry.Content, entry.Priority, entry.VRAMUsage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("AddReflection: %w", err)
	}
	return nil
}

// RecentReflections returns the most recent reflection entries, newest first.
func (c *Client) RecentReflections(ctx context.Context, limit int) ([]*store.Reflection, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, model, protocol, content, priority, vram, created_at
		FROM reflection_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentReflections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*store.Reflection
	for rows.Next() {
		var r store.Reflection
		if err := rows.Scan(&r.ID, &r.Model, &r.Protocol, &r.Content, &r.Priority, &r.VRAMUsage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("RecentReflections: %w", err)
		}
		entries = append(entries, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecentReflections: %w", err)
	}
	return entries, nil
}

// EnqueueTask appends a task in status pending.
func (c *Client) EnqueueTask(ctx context.Context, task *store.Task) error {
	if task.Status == "" {
		task.Status = store.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	var scheduled interface{}
	if task.ScheduledFor != nil {
		scheduled = *task.ScheduledFor
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tasks (id, conversation_id, description, priority, status, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.ConversationID, task.Description, task.Priority, task.Status, scheduled, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("EnqueueTask: %w", err)
	}
	return nil
}

// NextDueTask returns the highest-priority pending task whose scheduled time
// is null or has passed, or nil when none is due.
func (c *Client) NextDueTask(ctx context.Context, now time.Time) (*store.Task, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, description, priority, status, scheduled_for, created_at
		FROM tasks
		WHERE status = $1 AND (scheduled_for IS NULL OR scheduled_for <= $2)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, store.TaskPending, now)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NextDueTask: %w", err)
	}
	return task, nil
}

// ClaimTask atomically transitions a task from pending to running.
func (c *Client) ClaimTask(ctx context.Context, id int64) (bool, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1 WHERE id = $2 AND status = $3
	`, store.TaskRunning, id, store.TaskPending)
	if err != nil {
		return false, fmt.Errorf("ClaimTask: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ClaimTask: %w", err)
	}
	return affected == 1, nil
}

// SetTaskStatus sets the status of a task.
func (c *Client) SetTaskStatus(ctx context.Context, id int64, status store.TaskStatus) error {
	_, err := c.db.ExecContext(ctx, "UPDATE tasks SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("SetTaskStatus: %w", err)
	}
	return nil
}

// GetTask returns a task by ID, or nil when absent.
func (c *Client) GetTask(ctx context.Context, id int64) (*store.Task, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, description, priority, status, scheduled_for, created_at
		FROM tasks WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTask: %w", err)
	}
	return task, nil
}

// AppendMessage appends a message to a channel's persisted transcript.
func (c *Client) AppendMessage(ctx context.Context, msg *store.ChannelMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO channel_messages (id, channel_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ChannelID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("AppendMessage: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTask scans a task row, converting the nullable scheduled_for column.
func scanTask(s scanner) (*store.Task, error) {
	var t store.Task
	var conversationID sql.NullString
	var scheduledFor sql.NullTime
	err := s.Scan(&t.ID, &conversationID, &t.Description, &t.Priority, &t.Status, &scheduledFor, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ConversationID = conversationID.String
	if scheduledFor.Valid {
		t.ScheduledFor = &scheduledFor.Time
	}
	return &t, nil
}

// scanNotes drains a note result set.
func scanNotes(rows *sql.Rows) ([]*store.Note, error) {
	var notes []*store.Note
	for rows.Next() {
		var n store.Note
		var topic sql.NullString
		if err := rows.Scan(&n.ID, &n.ConversationID, &n.Model, &topic, &n.Content, &n.Importance, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanNotes: %w", err)
		}
		n.Topic = topic.String
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanNotes: %w", err)
	}
	return notes, nil
}
