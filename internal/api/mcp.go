package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Chiwai15/agent-memory-chatbot/internal/memory"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memories MemoryAdmin
}

// NewMCPServer creates an MCP server exposing the long-term memory tier as
// agent-callable tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"memchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("memchat — per-user memory store for conversational agents: remember facts, recall them, forget them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a fact about a user for later recall."),
			mcp.WithString("user_id", mcp.Description("User the fact belongs to"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Entity type: name, age, occupation, location, preference, fact, relationship"), mcp.Required()),
			mcp.WithString("value", mcp.Description("The fact itself, with full context"), mcp.Required()),
			mcp.WithNumber("confidence", mcp.Description("Confidence 0.0-1.0 (default 1.0)")),
			mcp.WithString("temporal_status", mcp.Description("past, current, future, or none (default none)")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("List every stored fact about a user."),
			mcp.WithString("user_id", mcp.Description("User to recall"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("forget",
			mcp.WithDescription("Delete every stored fact about a user."),
			mcp.WithString("user_id", mcp.Description("User to forget"), mcp.Required()),
		),
		mcpForget(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		entityType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		candidate := memory.Candidate{
			Type:           memory.EntityType(entityType),
			Value:          value,
			Confidence:     req.GetFloat("confidence", 1.0),
			Importance:     1.0,
			TemporalStatus: memory.TemporalStatus(req.GetString("temporal_status", "")),
		}

		result := deps.Memories.Persist(ctx, userID, []memory.Candidate{candidate})
		if len(result.Failed) > 0 {
			return mcpError(fmt.Sprintf("failed to store: %v", result.Failed[0].Err)), nil
		}
		if result.Dropped > 0 {
			return mcpError("confidence below storage threshold, fact not stored"), nil
		}

		return mcpText(fmt.Sprintf("Stored %s for user %s", result.Stored[0].Display(), userID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		entities, err := deps.Memories.RetrieveAll(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(entities) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(toMemoryViews(entities))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpForget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		deleted, err := deps.Memories.DeleteAll(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("forget failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %d memories for user %s", deleted, userID)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
