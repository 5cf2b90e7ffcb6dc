// Package extract turns a conversation turn into scored memory candidates by
// asking the model for structured JSON. Extraction is strictly best-effort:
// every failure mode degrades to "nothing extracted", never to a failed turn.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Chiwai15/agent-memory-chatbot/internal/llm"
	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

// DefaultTimeout bounds one extraction call. Deliberately shorter than the
// reply-generation timeout: a slow extraction must not hold the turn open.
const DefaultTimeout = 20 * time.Second

// Generator produces a model completion for the given messages.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// Result is one successful extraction: candidates ready for validation and
// persistence, plus the model's own framing of what it found.
type Result struct {
	Candidates []memory.Candidate
	Summary    string
	Importance float64
}

// Extractor drives LLM-based entity extraction.
type Extractor struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExtractor creates an Extractor. If timeout <= 0 the default is used.
func NewExtractor(g Generator, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{generator: g, timeout: timeout, logger: slog.Default()}
}

// wire mirrors the JSON contract the prompt demands from the model.
type wireEntity struct {
	Type              string   `json:"type"`
	Value             string   `json:"value"`
	Confidence        float64  `json:"confidence"`
	Importance        *float64 `json:"importance,omitempty"`
	TemporalStatus    string   `json:"temporal_status"`
	ReferenceSentence string   `json:"reference_sentence"`
}

type wireExtraction struct {
	Entities    []wireEntity `json:"entities"`
	Summary     string       `json:"summary"`
	Importance  float64      `json:"importance"`
	ShouldStore bool         `json:"should_store"`
}

// Extract asks the model to extract memorable entities from the latest user
// message, with recent history as context. A nil Result with a nil error means
// "nothing to remember" — model refusal, unparsable output, upstream errors
// and timeouts all land there, because the caller's reply must not depend on
// extraction succeeding.
func (e *Extractor) Extract(ctx context.Context, latest string, history []thread.Turn, userID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: BuildPrompt(latest, history)},
	}

	raw, err := e.generator.Generate(ctx, messages)
	if err != nil {
		e.logger.Warn("extraction call failed, skipping", "user_id", userID, "error", err)
		return nil, nil
	}

	var parsed wireExtraction
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		e.logger.Warn("extraction response is not valid JSON, skipping",
			"user_id", userID, "error", err, "response_prefix", prefix(raw, 200))
		return nil, nil
	}

	if !parsed.ShouldStore || len(parsed.Entities) == 0 {
		e.logger.Debug("nothing to remember this turn",
			"user_id", userID, "should_store", parsed.ShouldStore, "entities", len(parsed.Entities))
		return nil, nil
	}

	result := &Result{
		Summary:    parsed.Summary,
		Importance: parsed.Importance,
		Candidates: make([]memory.Candidate, 0, len(parsed.Entities)),
	}
	for _, ent := range parsed.Entities {
		importance := parsed.Importance
		if ent.Importance != nil {
			importance = *ent.Importance
		}
		result.Candidates = append(result.Candidates, memory.Candidate{
			Type:              memory.EntityType(ent.Type),
			Value:             ent.Value,
			Confidence:        ent.Confidence,
			Importance:        importance,
			TemporalStatus:    memory.TemporalStatus(ent.TemporalStatus),
			ReferenceSentence: ent.ReferenceSentence,
		})
	}
	return result, nil
}

// stripCodeFence unwraps a ```json ... ``` (or bare ```) block if the model
// fenced its response despite the JSON-only instruction.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
