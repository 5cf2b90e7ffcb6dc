package extract

import (
	"fmt"
	"strings"

	"github.com/Chiwai15/agent-memory-chatbot/internal/thread"
)

// contextTurns bounds how much recent history goes into the extraction
// request. Five turns is enough to disambiguate pronouns without paying for
// the full window.
const contextTurns = 5

const systemPrompt = "You are a memory extraction expert. Respond ONLY with valid JSON matching the requested schema."

const promptTemplate = `You are an expert at extracting memorable information from conversations with COMPLETE CONTEXT (5W1H: Who, What, When, Where, Why, How).

CONVERSATION CONTEXT:
%s

TASK: Analyze the user's latest message and extract information with FULL CONTEXTUAL DETAILS in a SINGLE pass.

EXTRACT these entity types:
- name: User's name or names of people mentioned
- age: User's age or ages mentioned
- occupation: Jobs, careers, occupations
- location: Cities, countries, addresses
- preference: Likes, dislikes, preferences (food, hobbies, etc.)
- fact: General facts about the user
- relationship: Family members, friends, colleagues WITH CONTEXT

CRITICAL: CAPTURE COMPLETE CONTEXT (5W1H)
For each entity, include ALL relevant context in the VALUE field:
- WHO: Include names, relationships, people involved
- WHAT: The specific activity, object, or information
- WHEN: Time references (past, current, future, specific times)
- WHERE: Locations if mentioned
- WHY: Reasons or motivations if stated
- HOW: Methods or manner if relevant

EXAMPLES OF COMPLETE CONTEXT:
BAD (Incomplete):
  - fact: "collaborate on lesson plans"
  - preference: "basketball"
  - relationship: "friend"

GOOD (Complete Context):
  - relationship: "collaborates with Sarah on lesson plans"
  - preference: "plays basketball every Saturday at Central Park"
  - relationship: "childhood friend Mike from Boston"

TEMPORAL AWARENESS:
- "past": Things that were true but are no longer (e.g., "I lived in Hong Kong", "I used to work at Google")
- "current": Things that are currently true (e.g., "I live in Canada now", "I am a developer")
- "future": Future plans or intentions (e.g., "I will move to Japan", "I plan to become a manager")
- "none": Timeless facts (e.g., "My name is John")

REFERENCE SENTENCE:
Extract the exact or compacted sentence from the conversation that contains this information. This preserves context.

SCORING GUIDELINES:
- Confidence: 0.0-1.0 (how certain you are about this entity)
  * 1.0: Explicit statements ("My name is John")
  * 0.7-0.9: Strong context ("I'm a software engineer")
  * 0.5-0.6: Implied information ("I work in tech")
  * <0.5: Weak/uncertain information

- Importance: 0.0-1.0 (how important is this to remember)
  * 1.0: Core identity (name, age, occupation)
  * 0.7-0.9: Significant preferences/facts
  * 0.5-0.6: Minor preferences
  * <0.5: Casual mentions

RESPONSE FORMAT (JSON):
{
  "entities": [
    {"type": "location", "value": "Hong Kong", "confidence": 1.0, "temporal_status": "past", "reference_sentence": "I lived in Hong Kong"},
    {"type": "location", "value": "Canada", "confidence": 1.0, "temporal_status": "current", "reference_sentence": "I moved to Canada now"},
    {"type": "name", "value": "John", "confidence": 1.0, "temporal_status": "none", "reference_sentence": "My name is John"}
  ],
  "summary": "User lived in Hong Kong (past) and now lives in Canada (current). User's name is John.",
  "importance": 0.95,
  "should_store": true
}

EXAMPLE - Temporal extraction:
User says: "I lived in Hong Kong and moved to Canada now"
Extract:
- location: "Hong Kong" (temporal_status: "past", reference_sentence: "I lived in Hong Kong")
- location: "Canada" (temporal_status: "current", reference_sentence: "moved to Canada now")

If there's NOTHING worth remembering (casual chat, questions, etc.), return:
{
  "entities": [],
  "summary": "No memorable information",
  "importance": 0.0,
  "should_store": false
}

Analyze the conversation and respond with ONLY valid JSON:`

// BuildPrompt renders the extraction prompt for the latest user message, with
// the most recent history turns included as disambiguating context.
func BuildPrompt(latest string, history []thread.Turn) string {
	if len(history) > contextTurns {
		history = history[len(history)-contextTurns:]
	}

	var b strings.Builder
	for _, turn := range history {
		role := "Assistant"
		if turn.Role == thread.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, turn.Content)
	}
	fmt.Fprintf(&b, "User: %s\n", latest)

	return fmt.Sprintf(promptTemplate, b.String())
}
