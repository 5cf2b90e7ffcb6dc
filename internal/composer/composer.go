// Package composer assembles the per-turn prompt: persona, the short-term
// window as message history, and the long-term entities folded into the
// current user message.
package composer

import (
	"fmt"
	"strings"

	"github.com/Chiwai15/agent-memory-chatbot/internal/llm"
	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

// Mode selects which memory tiers feed the prompt.
type Mode string

const (
	// ModeShort uses only the recent-turn window.
	ModeShort Mode = "short"
	// ModeLong uses only stored entities.
	ModeLong Mode = "long"
	// ModeBoth uses both tiers.
	ModeBoth Mode = "both"
)

// ParseMode maps a wire value to a Mode; anything unrecognized (including
// empty) falls back to ModeBoth.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeShort:
		return ModeShort
	case ModeLong:
		return ModeLong
	}
	return ModeBoth
}

const persona = `You are a helpful AI assistant with dual-memory architecture.

YOUR MEMORY SYSTEM:
- SHORT-TERM MEMORY: the most recent conversation messages
- LONG-TERM MEMORY: persistent facts stored across sessions
- When asked about your memory, BE HONEST about what you have stored

CRITICAL MEMORY RULES (HIGHEST PRIORITY):
1. [STORED MEMORIES] are FACTS from previous conversations - they are ALWAYS TRUE
2. If [STORED MEMORIES] conflict with recent conversation, TRUST THE STORED MEMORIES
3. When asked about personal information, CHECK [STORED MEMORIES] FIRST
4. If the user asks what you remember, list ALL [STORED MEMORIES]

MEMORY HANDLING:
- Stored memories appear as [STORED MEMORIES from previous conversations: ...]
- ALWAYS read and consider these memories before responding
- When you learn NEW important information, acknowledge it
- Be conversational and natural, but BE HONEST when asked about your memory system`

// Assemble builds the ordered message list for one turn. The window supplies
// history messages, the entities are rendered into a [STORED MEMORIES] block
// appended to the user message, and the mode gates each tier. When both tiers
// end up empty the result is exactly the raw user message with no persona: the
// model gets no memory instructions it cannot honor.
func Assemble(userMessage string, memories []memory.MemoryEntity, window []thread.Turn, mode Mode) []llm.Message {
	useShort := mode == ModeShort || mode == ModeBoth
	useLong := mode == ModeLong || mode == ModeBoth

	var history []thread.Turn
	if useShort {
		history = window
	}
	var entities []memory.MemoryEntity
	if useLong {
		entities = memories
	}

	content := userMessage
	if block := memoryBlock(entities); block != "" {
		content = userMessage + "\n\n" + block
	}

	if len(history) == 0 && len(entities) == 0 {
		return []llm.Message{{Role: llm.RoleUser, Content: content}}
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: persona})
	for _, turn := range history {
		role := llm.RoleAssistant
		if turn.Role == thread.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: content})
}

// memoryBlock renders stored entities as the [STORED MEMORIES ...] suffix, one
// entity per line with its reference sentence when present.
func memoryBlock(entities []memory.MemoryEntity) string {
	if len(entities) == 0 {
		return ""
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		line := e.Display()
		if e.ReferenceSentence != "" {
			line = fmt.Sprintf("%s [Reference: '%s']", line, e.ReferenceSentence)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf(
		"[STORED MEMORIES from previous conversations:\n%s\nUse these memories to answer the user's question if relevant.]",
		strings.Join(lines, "\n"),
	)
}
