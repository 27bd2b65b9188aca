package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ukstore/uks/internal/session"
	"github.com/ukstore/uks/internal/storage"
)

// ContextTools holds references needed by context-management tool handlers.
type ContextTools struct {
	Store   *storage.Store
	Session *session.Session
}

type SwitchContextInput struct {
	Name string `json:"name" jsonschema:"Context (namespace) to make active"`
}

func (t *ContextTools) SwitchContext(_ context.Context, _ *mcp.CallToolRequest, input SwitchContextInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Context name is required"), nil, nil
	}
	// Reject names the store would refuse before making them active.
	if _, err := t.Store.LoadGraph(input.Name); err != nil {
		return toolError("Cannot switch to context %q: %v", input.Name, err), nil, nil
	}
	t.Session.Switch(input.Name)
	return toolText(fmt.Sprintf("Active context is now %q.", input.Name)), nil, nil
}

type GetCurrentContextInput struct{}

func (t *ContextTools) GetCurrentContext(_ context.Context, _ *mcp.CallToolRequest, _ GetCurrentContextInput) (*mcp.CallToolResult, any, error) {
	return toolText(t.Session.Current()), nil, nil
}

type ListContextsInput struct{}

func (t *ContextTools) ListContexts(_ context.Context, _ *mcp.CallToolRequest, _ ListContextsInput) (*mcp.CallToolResult, any, error) {
	contexts, err := t.Store.ListContexts()
	if err != nil {
		return toolError("Failed to list contexts: %v", err), nil, nil
	}
	if contexts == nil {
		contexts = []string{}
	}
	return toolJSON(contexts)
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
