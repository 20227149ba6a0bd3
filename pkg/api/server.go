// Package api exposes the engine over an OpenAI-compatible HTTP surface so
// existing chat frontends can point at it unchanged.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/core"
	"github.com/origo-labs/soulcore-go/pkg/memory"
)

// Server is the HTTP front of the engine.
type Server struct {
	kernel    *core.Kernel
	extractor *memory.Extractor
	model     string
	log       *zap.Logger

	// reload re-applies configuration; wired by the host process.
	reload func() error

	// shutdown requests a graceful stop of the host process.
	shutdown func()

	mux        *http.ServeMux
	httpServer *http.Server
}

// Config contains HTTP server configuration.
type Config struct {
	// Host is the listen address.
	Host string

	// Port is the listen port.
	Port int

	// Model is the model name advertised on /v1/models.
	Model string
}

// NewServer creates the HTTP server. Extractor, reload, and shutdown are
// optional; a nil value disables the matching endpoint.
func NewServer(cfg *Config, kernel *core.Kernel, extractor *memory.Extractor, reload func() error, shutdown func(), log *zap.Logger) *Server {
	s := &Server{
		kernel:    kernel,
		extractor: extractor,
		model:     cfg.Model,
		log:       log,
		reload:    reload,
		shutdown:  shutdown,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/memory/distill", s.handleDistill)
	mux.HandleFunc("/system/reload", s.handleReload)
	mux.HandleFunc("/system/stop", s.handleStop)

	s.mux = mux
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// ListenAndServe starts serving. It blocks until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	s.log.Info("api listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// chatRequest is the accepted subset of the OpenAI chat completion request,
// extended with a conversation ID for memory scoping.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	ConversationID string        `json:"conversation_id"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleRoot reports liveness.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"model":  s.model,
	})
}

// handleModels lists the single served model in OpenAI list format.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data": []map[string]interface{}{
			{
				"id":       s.model,
				"object":   "model",
				"owned_by": "soulcore",
			},
		},
	})
}

// handleChatCompletions runs one conversational turn. The newest user
// message is the turn input; prior messages are context the engine already
// holds in its own memory.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := lastUserMessage(req.Messages)
	if message == "" {
		writeError(w, http.StatusBadRequest, "no user message in request")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}

	reply, err := s.kernel.ProcessMessage(r.Context(), conversationID, message)
	if err != nil {
		s.log.Error("turn failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "generation failed")
		return
	}

	id := "chatcmpl-" + uuid.NewString()

	if req.Stream {
		s.writeStream(w, id, reply)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   s.model,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": reply,
				},
				"finish_reason": "stop",
			},
		},
	})
}

// writeStream emits the reply as a single SSE chunk followed by [DONE].
// The pipeline produces complete replies, so the stream shape exists for
// client compatibility, not incremental delivery.
func (s *Server) writeStream(w http.ResponseWriter, id, reply string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	chunk := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   s.model,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"delta": map[string]string{
					"role":    "assistant",
					"content": reply,
				},
				"finish_reason": "stop",
			},
		},
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		s.log.Error("stream encoding failed", zap.Error(err))
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleDistill runs one fact-distillation pass over a conversation's notes.
func (s *Server) handleDistill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.extractor == nil {
		writeError(w, http.StatusNotImplemented, "distillation not available")
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	written, err := s.extractor.Distill(r.Context(), req.ConversationID)
	if err != nil {
		s.log.Error("distillation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "distillation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"facts_written":   written,
	})
}

// handleReload re-applies configuration without a restart.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reload == nil {
		writeError(w, http.StatusNotImplemented, "reload not available")
		return
	}
	if err := s.reload(); err != nil {
		s.log.Error("reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	s.log.Info("configuration reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleStop requests a graceful shutdown of the host process.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.shutdown == nil {
		writeError(w, http.StatusNotImplemented, "stop not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	go s.shutdown()
}

// lastUserMessage returns the newest user-role message content.
func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an OpenAI-shaped error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": message,
		},
	})
}
