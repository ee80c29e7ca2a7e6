package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/casaviva/hestia/internal/provider"
	"github.com/casaviva/hestia/internal/selector"
	"github.com/casaviva/hestia/internal/session"
	"github.com/casaviva/hestia/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Store is optional; when
// nil the recent-exchanges resource reports an empty list.
type MCPDeps struct {
	Sessions  *session.Manager
	Lister    session.ModelLister
	Store     *storage.Store
	MaxModels int
}

// NewMCPServer creates an MCP server exposing the dispatch cascade as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"hestia",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("hestia is a free-tier model cascade: ask questions, the best available free model answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Send a message through the model cascade and return the first successful answer."),
			mcp.WithString("message", mcp.Description("The user message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation to continue; omit to start a new one")),
			mcp.WithBoolean("one_off", mcp.Description("Dispatch without touching any conversation history")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the free models currently eligible for the cascade, best first."),
		),
		mcpListModels(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"hestia://exchanges/recent",
			"Recent Exchanges",
			mcp.WithResourceDescription("Last 10 logged exchanges (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		oneOff := req.GetBool("one_off", false)
		sessionID := req.GetString("session_id", "")

		var res session.Result
		if oneOff {
			res = deps.Sessions.Detached().AskOneOff(ctx, message, provider.ChatOptions{})
		} else {
			var s *session.Session
			s, sessionID = deps.Sessions.GetOrCreate(sessionID)
			res = s.Ask(ctx, message, provider.ChatOptions{})
		}

		recordExchange(deps.Store, sessionID, message, res)

		if !res.Success {
			return mcpError(fmt.Sprintf("dispatch failed (%s): %s", res.ErrorKind, res.Error)), nil
		}

		b, err := json.Marshal(map[string]any{
			"session_id": sessionID,
			"model_id":   res.ModelID,
			"text":       res.Text,
			"attempts":   res.Attempts,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		catalog, err := deps.Lister.ListModels(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing models: %v", err)), nil
		}

		ranked, err := selector.CascadeOrder(catalog, deps.MaxModels, time.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("ranking models: %v", err)), nil
		}

		type entry struct {
			ID            string `json:"id"`
			Score         int    `json:"score"`
			ContextWindow int    `json:"context_window"`
		}
		out := make([]entry, len(ranked))
		for i, m := range ranked {
			out[i] = entry{ID: m.ID, Score: m.Score, ContextWindow: m.ContextWindow}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal models: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var exchanges []storage.Exchange
		if deps.Store != nil {
			var err error
			exchanges, err = deps.Store.RecentExchanges(10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent exchanges: %w", err)
			}
		}

		type exchangeSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			ModelID   string `json:"model_id,omitempty"`
			Status    string `json:"status"`
		}

		summaries := make([]exchangeSummary, len(exchanges))
		for i, ex := range exchanges {
			prompt := ex.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = exchangeSummary{
				ID:        ex.ID,
				CreatedAt: ex.CreatedAt.Format(time.RFC3339),
				Prompt:    prompt,
				ModelID:   ex.ModelID,
				Status:    ex.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal exchanges: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
