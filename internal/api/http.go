// Package api exposes the chat engine over HTTP and MCP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Chiwai15/agent-memory-chatbot/internal/composer"
	"github.com/Chiwai15/agent-memory-chatbot/internal/llm"
	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
	"github.com/Chiwai15/agent-memory-chatbot/internal/pipeline"
	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnEngine runs one chat exchange.
type TurnEngine interface {
	RunTurn(ctx context.Context, req pipeline.TurnRequest) (*pipeline.TurnResult, error)
}

// ThreadReader reads thread logs for the inspection endpoints.
type ThreadReader interface {
	Load(ctx context.Context, threadID string) ([]thread.Turn, error)
	All(ctx context.Context, threadID string) ([]thread.Turn, error)
}

// MemoryAdmin is the long-term tier surface the management endpoints need.
type MemoryAdmin interface {
	RetrieveAll(ctx context.Context, userID string) ([]memory.MemoryEntity, error)
	Persist(ctx context.Context, userID string, candidates []memory.Candidate) memory.PersistResult
	DeleteAll(ctx context.Context, userID string) (int, error)
	DeleteAllGlobal(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]string, error)
}

// Deps holds the handler's collaborators.
type Deps struct {
	Engine   TurnEngine
	Threads  ThreadReader
	Memories MemoryAdmin
	Window   int    // short-term window size, reported by /api/config
	APIToken string // when set, destructive routes require bearer auth
}

// NewHandler returns the HTTP API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/api/config", handleConfig(deps))
	r.Post("/chat", handleChat(deps))
	r.Get("/conversation/{userID}", handleConversation(deps))
	r.Get("/memories/{userID}", handleMemories(deps))

	r.Group(func(r chi.Router) {
		if deps.APIToken != "" {
			r.Use(requireBearer(deps.APIToken))
		}
		r.Delete("/memories/{userID}", handleDeleteMemories(deps))
		r.Delete("/memories", handleDeleteAllMemories(deps))
		r.Get("/users", handleListUsers(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"short_term_message_limit": deps.Window,
		})
	}
}

type chatRequest struct {
	Message      string `json:"message"`
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id,omitempty"`
	MemorySource string `json:"memory_source,omitempty"`
}

type chatResponse struct {
	Response       string       `json:"response"`
	MemoriesUsed   []memoryView `json:"memories_used"`
	FactsExtracted []string     `json:"facts_extracted"`
}

// memoryView is the wire shape of one stored entity.
type memoryView struct {
	ID                string    `json:"id"`
	EntityType        string    `json:"entity_type"`
	Value             string    `json:"value"`
	Confidence        float64   `json:"confidence"`
	Importance        float64   `json:"importance"`
	TemporalStatus    string    `json:"temporal_status"`
	ReferenceSentence string    `json:"reference_sentence,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toMemoryViews(entities []memory.MemoryEntity) []memoryView {
	views := make([]memoryView, len(entities))
	for i, e := range entities {
		views[i] = memoryView{
			ID:                e.Key,
			EntityType:        string(e.Type),
			Value:             e.Value,
			Confidence:        e.Confidence,
			Importance:        e.Importance,
			TemporalStatus:    string(e.TemporalStatus),
			ReferenceSentence: e.ReferenceSentence,
			CreatedAt:         e.CreatedAt,
		}
	}
	return views
}

// resolveThreadID picks the thread for a chat request. Long-only mode gets a
// dedicated thread so the recent-turn window of the main thread never leaks
// into a prompt that should carry stored entities only.
func resolveThreadID(req chatRequest, mode composer.Mode) string {
	if req.ThreadID != "" {
		return req.ThreadID
	}
	if mode == composer.ModeLong {
		return req.UserID + "_long_only"
	}
	return req.UserID
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		mode := composer.ParseMode(req.MemorySource)
		result, err := deps.Engine.RunTurn(r.Context(), pipeline.TurnRequest{
			UserID:   req.UserID,
			ThreadID: resolveThreadID(req, mode),
			Message:  req.Message,
			Mode:     mode,
		})
		if err != nil {
			if errors.Is(err, llm.ErrCredentialsExhausted) {
				httpError(w, http.StatusServiceUnavailable, "api_error", "model temporarily unavailable, try again later")
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}

		writeJSON(w, chatResponse{
			Response:       result.Reply,
			MemoriesUsed:   toMemoryViews(result.MemoriesUsed),
			FactsExtracted: emptyIfNil(result.FactsExtracted),
		})
	}
}

func handleConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		all, err := deps.Threads.All(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}
		windowed, err := deps.Threads.Load(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"user_id":  userID,
			"total":    len(all),
			"messages": windowed,
		})
	}
}

func handleMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		entities, err := deps.Memories.RetrieveAll(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading memories: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"user_id":  userID,
			"total":    len(entities),
			"memories": toMemoryViews(entities),
		})
	}
}

func handleDeleteMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		deleted, err := deps.Memories.DeleteAll(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting memories: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"user_id": userID,
			"deleted": deleted,
			"message": fmt.Sprintf("Deleted %d memories for user %s", deleted, userID),
		})
	}
}

func handleDeleteAllMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Memories.DeleteAllGlobal(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting memories: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"deleted": deleted,
			"message": fmt.Sprintf("Deleted %d memories across all users", deleted),
		})
	}
}

func handleListUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Memories.ListUsers(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing users: %v", err)
			return
		}
		if users == nil {
			users = []string{}
		}
		writeJSON(w, map[string]any{"users": users})
	}
}

// requireBearer guards the destructive memory routes (bulk deletes, user
// listing). The comparison is constant-time so the token cannot be probed
// byte by byte.
func requireBearer(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(supplied), expected) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "memory management requires a valid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
