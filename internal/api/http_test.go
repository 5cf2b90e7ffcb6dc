package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Chiwai15/agent-memory-chatbot/internal/composer"
	"github.com/Chiwai15/agent-memory-chatbot/internal/llm"
	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
	"github.com/Chiwai15/agent-memory-chatbot/internal/pipeline"
	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

type fakeEngine struct {
	lastReq pipeline.TurnRequest
	result  *pipeline.TurnResult
	err     error
}

func (f *fakeEngine) RunTurn(_ context.Context, req pipeline.TurnRequest) (*pipeline.TurnResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeThreadReader struct {
	all      []thread.Turn
	windowed []thread.Turn
	err      error
}

func (f *fakeThreadReader) Load(context.Context, string) ([]thread.Turn, error) {
	return f.windowed, f.err
}

func (f *fakeThreadReader) All(context.Context, string) ([]thread.Turn, error) {
	return f.all, f.err
}

type fakeMemoryAdmin struct {
	entities   []memory.MemoryEntity
	deleted    int
	listedErr  error
	users      []string
	persistRes memory.PersistResult
}

func (f *fakeMemoryAdmin) RetrieveAll(context.Context, string) ([]memory.MemoryEntity, error) {
	return f.entities, f.listedErr
}

func (f *fakeMemoryAdmin) Persist(context.Context, string, []memory.Candidate) memory.PersistResult {
	return f.persistRes
}

func (f *fakeMemoryAdmin) DeleteAll(context.Context, string) (int, error) {
	return f.deleted, f.listedErr
}

func (f *fakeMemoryAdmin) DeleteAllGlobal(context.Context) (int, error) {
	return f.deleted, f.listedErr
}

func (f *fakeMemoryAdmin) ListUsers(context.Context) ([]string, error) {
	return f.users, f.listedErr
}

func newTestHandler(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Engine == nil {
		deps.Engine = &fakeEngine{result: &pipeline.TurnResult{Reply: "ok"}}
	}
	if deps.Threads == nil {
		deps.Threads = &fakeThreadReader{}
	}
	if deps.Memories == nil {
		deps.Memories = &fakeMemoryAdmin{}
	}
	if deps.Window == 0 {
		deps.Window = 30
	}
	return NewHandler(deps)
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Deps{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestConfig(t *testing.T) {
	h := newTestHandler(t, Deps{Window: 12})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["short_term_message_limit"] != 12 {
		t.Errorf("short_term_message_limit = %d, want 12", body["short_term_message_limit"])
	}
}

func TestChat_Success(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.TurnResult{
		Reply: "Nice to meet you, Alice!",
		MemoriesUsed: []memory.MemoryEntity{
			{Key: "k1", Type: memory.TypeName, Value: "Alice", Confidence: 1.0, TemporalStatus: memory.TemporalNone, CreatedAt: time.Now()},
		},
		FactsExtracted: []string{"User's name is Alice.", "name: Alice"},
	}}
	h := newTestHandler(t, Deps{Engine: engine})

	w := postChat(t, h, `{"message": "My name is Alice", "user_id": "alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Response       string `json:"response"`
		MemoriesUsed   []struct {
			ID         string `json:"id"`
			EntityType string `json:"entity_type"`
		} `json:"memories_used"`
		FactsExtracted []string `json:"facts_extracted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Response != "Nice to meet you, Alice!" {
		t.Errorf("response = %q", resp.Response)
	}
	if len(resp.MemoriesUsed) != 1 || resp.MemoriesUsed[0].EntityType != "name" {
		t.Errorf("memories_used = %+v", resp.MemoriesUsed)
	}
	if len(resp.FactsExtracted) != 2 {
		t.Errorf("facts_extracted = %v", resp.FactsExtracted)
	}

	if engine.lastReq.Mode != composer.ModeBoth {
		t.Errorf("mode = %q, want both by default", engine.lastReq.Mode)
	}
	if engine.lastReq.ThreadID != "alice" {
		t.Errorf("thread_id = %q, want user_id by default", engine.lastReq.ThreadID)
	}
}

func TestChat_LongModeGetsIsolatedThread(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.TurnResult{Reply: "ok"}}
	h := newTestHandler(t, Deps{Engine: engine})

	postChat(t, h, `{"message": "hi", "user_id": "alice", "memory_source": "long"}`)
	if engine.lastReq.ThreadID != "alice_long_only" {
		t.Errorf("thread_id = %q, want alice_long_only", engine.lastReq.ThreadID)
	}
}

func TestChat_ExplicitThreadIDWins(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.TurnResult{Reply: "ok"}}
	h := newTestHandler(t, Deps{Engine: engine})

	postChat(t, h, `{"message": "hi", "user_id": "alice", "thread_id": "session-7", "memory_source": "long"}`)
	if engine.lastReq.ThreadID != "session-7" {
		t.Errorf("thread_id = %q, want session-7", engine.lastReq.ThreadID)
	}
}

func TestChat_Validation(t *testing.T) {
	h := newTestHandler(t, Deps{})

	tests := []struct {
		name, body string
	}{
		{"malformed json", `{`},
		{"missing message", `{"user_id": "alice"}`},
		{"missing user_id", `{"message": "hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postChat(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChat_CredentialsExhausted(t *testing.T) {
	engine := &fakeEngine{err: llm.ErrCredentialsExhausted}
	h := newTestHandler(t, Deps{Engine: engine})

	w := postChat(t, h, `{"message": "hi", "user_id": "alice"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestChat_UpstreamError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("upstream exploded")}
	h := newTestHandler(t, Deps{Engine: engine})

	w := postChat(t, h, `{"message": "hi", "user_id": "alice"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	if body.Error.Type != "api_error" {
		t.Errorf("error.type = %q, want api_error", body.Error.Type)
	}
}

func TestConversation(t *testing.T) {
	threads := &fakeThreadReader{
		all: []thread.Turn{
			{Role: thread.RoleUser, Content: "q1"},
			{Role: thread.RoleAssistant, Content: "a1"},
			{Role: thread.RoleUser, Content: "q2"},
			{Role: thread.RoleAssistant, Content: "a2"},
		},
		windowed: []thread.Turn{
			{Role: thread.RoleUser, Content: "q2"},
			{Role: thread.RoleAssistant, Content: "a2"},
		},
	}
	h := newTestHandler(t, Deps{Threads: threads})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversation/alice", nil))

	var body struct {
		UserID   string        `json:"user_id"`
		Total    int           `json:"total"`
		Messages []thread.Turn `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.UserID != "alice" || body.Total != 4 || len(body.Messages) != 2 {
		t.Errorf("body = %+v, want total 4 with 2 windowed messages", body)
	}
}

func TestMemories(t *testing.T) {
	memories := &fakeMemoryAdmin{entities: []memory.MemoryEntity{
		{Key: "k1", Type: memory.TypeName, Value: "Alice", Confidence: 1.0},
		{Key: "k2", Type: memory.TypePreference, Value: "loves pizza", Confidence: 0.8, TemporalStatus: memory.TemporalCurrent},
	}}
	h := newTestHandler(t, Deps{Memories: memories})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/memories/alice", nil))

	var body struct {
		Total    int          `json:"total"`
		Memories []memoryView `json:"memories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if body.Memories[0].ID != "k1" || body.Memories[0].EntityType != "name" {
		t.Errorf("memories[0] = %+v", body.Memories[0])
	}
}

func TestDeleteMemories_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, Deps{Memories: &fakeMemoryAdmin{deleted: 3}, APIToken: "secret"})

	req := httptest.NewRequest(http.MethodDelete, "/memories/alice", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/memories/alice", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", w.Code)
	}

	var body struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", body.Deleted)
	}
}

func TestDeleteMemories_WrongToken(t *testing.T) {
	h := newTestHandler(t, Deps{APIToken: "secret"})

	req := httptest.NewRequest(http.MethodDelete, "/memories/alice", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Type != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", body.Error.Type)
	}
}

func TestDeleteMemories_NoTokenConfigured(t *testing.T) {
	h := newTestHandler(t, Deps{Memories: &fakeMemoryAdmin{deleted: 1}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/memories/alice", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when no token configured", w.Code)
	}
}

func TestDeleteAllMemories(t *testing.T) {
	h := newTestHandler(t, Deps{Memories: &fakeMemoryAdmin{deleted: 7}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/memories", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Deleted int `json:"deleted"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Deleted != 7 {
		t.Errorf("deleted = %d, want 7", body.Deleted)
	}
}

func TestListUsers(t *testing.T) {
	h := newTestHandler(t, Deps{Memories: &fakeMemoryAdmin{users: []string{"alice", "bob"}}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))

	var body struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Users) != 2 || body.Users[0] != "alice" {
		t.Errorf("users = %v", body.Users)
	}
}

func TestListUsers_EmptyIsArray(t *testing.T) {
	h := newTestHandler(t, Deps{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	if got := w.Body.String(); got != "{\"users\":[]}\n" {
		t.Errorf("body = %q, want empty array not null", got)
	}
}
