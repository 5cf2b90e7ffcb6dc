// Package pipeline orchestrates one chat turn: load both memory tiers,
// assemble the prompt, generate the reply, then extract and persist what the
// turn taught us. The reply is the only hard dependency — everything after it
// is best-effort.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Chiwai15/agent-memory-chatbot/internal/composer"
	"github.com/Chiwai15/agent-memory-chatbot/internal/extract"
	"github.com/Chiwai15/agent-memory-chatbot/internal/llm"
	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

// ThreadLog is the short-term tier surface the pipeline needs.
type ThreadLog interface {
	Load(ctx context.Context, threadID string) ([]thread.Turn, error)
	Append(ctx context.Context, threadID string, turns ...thread.Turn) error
}

// MemoryManager is the long-term tier surface the pipeline needs.
type MemoryManager interface {
	RetrieveAll(ctx context.Context, userID string) ([]memory.MemoryEntity, error)
	Persist(ctx context.Context, userID string, candidates []memory.Candidate) memory.PersistResult
}

// Extractor turns the finished exchange into memory candidates.
type Extractor interface {
	Extract(ctx context.Context, latest string, history []thread.Turn, userID string) (*extract.Result, error)
}

// Generator produces the model reply.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// TurnRequest is one user message plus its addressing.
type TurnRequest struct {
	UserID   string
	ThreadID string
	Message  string
	Mode     composer.Mode
}

// TurnMetadata captures per-turn diagnostics.
type TurnMetadata struct {
	Mode             composer.Mode
	WindowTurns      int
	EntitiesLoaded   int
	ShortTermDropped bool // window load failed, continued without it
	LongTermDropped  bool // entity load failed, continued without it
	EntitiesStored   int
	TurnDurationMs   int64
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	Reply          string
	MemoriesUsed   []memory.MemoryEntity
	FactsExtracted []string
	Summary        string
	Meta           TurnMetadata
}

// Engine runs chat turns against the two memory tiers and the model.
type Engine struct {
	threads   ThreadLog
	memories  MemoryManager
	extractor Extractor
	generator Generator
	logger    *slog.Logger
}

// NewEngine wires a turn engine.
func NewEngine(threads ThreadLog, memories MemoryManager, extractor Extractor, generator Generator) *Engine {
	return &Engine{
		threads:   threads,
		memories:  memories,
		extractor: extractor,
		generator: generator,
		logger:    slog.Default(),
	}
}

// RunTurn executes one exchange. Tier loads run concurrently and each
// degrades independently: an unavailable store drops that tier from the
// prompt rather than failing the turn, so the worst case is the raw user
// message with no context. Only generation errors propagate. Extraction,
// persistence, and the log append happen after the reply is secured and are
// absorbed on failure.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()

	result := &TurnResult{Meta: TurnMetadata{Mode: req.Mode}}
	defer func() {
		result.Meta.TurnDurationMs = time.Since(start).Milliseconds()
	}()

	useShort := req.Mode == composer.ModeShort || req.Mode == composer.ModeBoth
	useLong := req.Mode == composer.ModeLong || req.Mode == composer.ModeBoth

	var (
		window   []thread.Turn
		entities []memory.MemoryEntity
	)
	g, gCtx := errgroup.WithContext(ctx)
	if useShort {
		g.Go(func() error {
			turns, err := e.threads.Load(gCtx, req.ThreadID)
			if err != nil {
				e.logger.Warn("short-term load failed, continuing without window",
					"thread_id", req.ThreadID, "error", err)
				result.Meta.ShortTermDropped = true
				return nil
			}
			window = turns
			return nil
		})
	}
	if useLong {
		g.Go(func() error {
			mems, err := e.memories.RetrieveAll(gCtx, req.UserID)
			if err != nil {
				e.logger.Warn("long-term load failed, continuing without entities",
					"user_id", req.UserID, "error", err)
				result.Meta.LongTermDropped = true
				return nil
			}
			entities = mems
			return nil
		})
	}
	g.Wait()

	result.Meta.WindowTurns = len(window)
	result.Meta.EntitiesLoaded = len(entities)
	result.MemoriesUsed = entities

	messages := composer.Assemble(req.Message, entities, window, req.Mode)

	reply, err := e.generator.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}
	result.Reply = reply

	// Reply secured. Everything below is best-effort.
	if useLong {
		e.extractAndPersist(ctx, req, window, result)
	}
	e.appendExchange(ctx, req, reply)

	e.logger.Debug("turn complete",
		"user_id", req.UserID,
		"thread_id", req.ThreadID,
		"mode", req.Mode,
		"window_turns", result.Meta.WindowTurns,
		"entities_loaded", result.Meta.EntitiesLoaded,
		"entities_stored", result.Meta.EntitiesStored,
	)
	return result, nil
}

func (e *Engine) extractAndPersist(ctx context.Context, req TurnRequest, window []thread.Turn, result *TurnResult) {
	extraction, err := e.extractor.Extract(ctx, req.Message, window, req.UserID)
	if err != nil {
		e.logger.Warn("extraction failed", "user_id", req.UserID, "error", err)
		return
	}
	if extraction == nil {
		return
	}

	result.Summary = extraction.Summary
	persisted := e.memories.Persist(ctx, req.UserID, extraction.Candidates)
	result.Meta.EntitiesStored = len(persisted.Stored)

	if len(persisted.Stored) > 0 {
		result.FactsExtracted = append(result.FactsExtracted, extraction.Summary)
		for _, ent := range persisted.Stored {
			result.FactsExtracted = append(result.FactsExtracted, ent.Display())
		}
	}
}

func (e *Engine) appendExchange(ctx context.Context, req TurnRequest, reply string) {
	now := time.Now().UTC()
	err := e.threads.Append(ctx, req.ThreadID,
		thread.Turn{Role: thread.RoleUser, Content: req.Message, Timestamp: now},
		thread.Turn{Role: thread.RoleAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		e.logger.Warn("thread append failed, exchange not checkpointed",
			"thread_id", req.ThreadID, "error", err)
	}
}
