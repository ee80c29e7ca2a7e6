package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/casaviva/hestia/internal/cascade"
	"github.com/casaviva/hestia/internal/session"
	"github.com/casaviva/hestia/internal/storage"
)

func newTestMCPDeps(t *testing.T, runner *stubRunner) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr := session.NewManager(func() *session.Session {
		return session.New(session.StaticSource{"org/big"}, runner)
	})

	return MCPDeps{
		Sessions:  mgr,
		Lister:    &stubLister{models: freeCatalog()},
		Store:     store,
		MaxModels: 5,
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPAsk(t *testing.T) {
	runner := &stubRunner{outcome: cascade.Outcome{ModelID: "org/big", Text: "hello!", Attempts: 1}}
	deps := newTestMCPDeps(t, runner)

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"message": "hi",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var out struct {
		SessionID string `json:"session_id"`
		ModelID   string `json:"model_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if out.Text != "hello!" || out.ModelID != "org/big" || out.SessionID == "" {
		t.Errorf("result = %+v", out)
	}

	// The exchange was logged.
	exchanges, err := deps.Store.RecentExchanges(10)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if len(exchanges) != 1 {
		t.Errorf("exchange count = %d, want 1", len(exchanges))
	}
}

func TestMCPAsk_MissingMessage(t *testing.T) {
	deps := newTestMCPDeps(t, &stubRunner{})

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error for missing message")
	}
}

func TestMCPListModels(t *testing.T) {
	deps := newTestMCPDeps(t, &stubRunner{})

	result, err := mcpListModels(deps)(context.Background(), makeCallToolRequest("list_models", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var out []struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(out) != 2 || out[0].ID != "org/big" {
		t.Errorf("models = %+v, want [org/big org/small]", out)
	}
}

func TestMCPResourceRecent(t *testing.T) {
	deps := newTestMCPDeps(t, &stubRunner{})

	if err := deps.Store.SaveExchange(storage.Exchange{
		ID:        "ex-1",
		CreatedAt: time.Now().UTC(),
		Prompt:    "hello",
		Response:  "hi",
		ModelID:   "org/big",
	}); err != nil {
		t.Fatalf("SaveExchange: %v", err)
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "hestia://exchanges/recent"},
	})
	if err != nil {
		t.Fatalf("resource error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents length = %d, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		ID     string `json:"id"`
		Prompt string `json:"prompt"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(text.Text), &summaries); err != nil {
		t.Fatalf("decoding resource: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "ex-1" {
		t.Errorf("summaries = %+v", summaries)
	}
}
