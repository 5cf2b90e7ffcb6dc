// Package thread owns the short-term memory tier: an append-only log of
// conversation turns per thread, loaded back as a bounded recency window.
// Older turns stay durable but are excluded from the window, never deleted.
package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Chiwai15/agent-memory-chatbot/internal/store"
)

// Scope is the store scope holding thread logs; the namespace user field
// carries the thread ID.
const Scope = "thread"

// DefaultWindow is the default number of most recent turns supplied to the
// model.
const DefaultWindow = 30

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single conversation message. Turns are immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the durable-store surface the log needs.
type Store interface {
	Put(ctx context.Context, ns store.Namespace, key string, value json.RawMessage) error
	Search(ctx context.Context, ns store.Namespace) ([]store.Record, error)
}

// Log reads and appends thread logs.
type Log struct {
	store  Store
	window int
	logger *slog.Logger
}

// NewLog creates a Log with the given window size. If window <= 0 the
// default (30) is used.
func NewLog(s Store, window int) *Log {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Log{store: s, window: window, logger: slog.Default()}
}

// Window returns the configured window size.
func (l *Log) Window() int {
	return l.window
}

func namespace(threadID string) store.Namespace {
	return store.Namespace{Scope: Scope, UserID: threadID}
}

// Append writes turns to the end of the thread log. Keys are zero-padded
// sequence numbers so store order equals append order even when two turns
// share a timestamp. Called once per completed exchange with the user turn
// and the assistant turn together.
//
// Concurrent appends on the same thread are not serialized here; chat is
// conversationally serial and last-write-wins ordering is acceptable.
func (l *Log) Append(ctx context.Context, threadID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	ns := namespace(threadID)
	existing, err := l.store.Search(ctx, ns)
	if err != nil {
		return fmt.Errorf("loading thread %s for append: %w", threadID, err)
	}

	seq := len(existing)
	for i, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now().UTC()
		}
		value, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		key := fmt.Sprintf("%012d", seq+i)
		if err := l.store.Put(ctx, ns, key, value); err != nil {
			return fmt.Errorf("appending turn %d to thread %s: %w", seq+i, threadID, err)
		}
	}
	return nil
}

// Load returns the most recent turns of the thread, oldest first, bounded by
// the window size. When truncation would open the window on an assistant
// turn, that orphan is dropped too so an exchange is never split.
//
// On store unavailability the error wraps store.ErrUnavailable; callers treat
// a failed load as "no short-term context" and continue degraded.
func (l *Log) Load(ctx context.Context, threadID string) ([]Turn, error) {
	records, err := l.store.Search(ctx, namespace(threadID))
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	turns := make([]Turn, 0, len(records))
	for _, rec := range records {
		var turn Turn
		if err := json.Unmarshal(rec.Value, &turn); err != nil {
			l.logger.Warn("skipping malformed turn record", "thread_id", threadID, "key", rec.Key, "error", err)
			continue
		}
		turns = append(turns, turn)
	}

	if len(turns) <= l.window {
		return turns, nil
	}

	turns = turns[len(turns)-l.window:]
	if len(turns) > 0 && turns[0].Role == RoleAssistant {
		turns = turns[1:]
	}
	return turns, nil
}

// All returns every turn of the thread without windowing, for inspection
// endpoints.
func (l *Log) All(ctx context.Context, threadID string) ([]Turn, error) {
	records, err := l.store.Search(ctx, namespace(threadID))
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	turns := make([]Turn, 0, len(records))
	for _, rec := range records {
		var turn Turn
		if err := json.Unmarshal(rec.Value, &turn); err != nil {
			l.logger.Warn("skipping malformed turn record", "thread_id", threadID, "key", rec.Key, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
