package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ukstore/uks/internal/ingest"
	"github.com/ukstore/uks/internal/models"
	"github.com/ukstore/uks/internal/server"
	"github.com/ukstore/uks/internal/storage"
	"github.com/ukstore/uks/internal/vector"
)

// setupIntegration creates a real MCP server over a temp data directory with
// in-memory transport and returns a connected client session.
func setupIntegration(t *testing.T) *mcp.ClientSession {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.New(dir, func(o *storage.Options) {
		o.LockRetryDelay = time.Millisecond
	})
	if err != nil {
		t.Fatal(err)
	}

	vectors, err := vector.New(dir, 32, vector.HashEmbedder(32), func(o *vector.Options) {
		o.LockRetryDelay = time.Millisecond
	})
	if err != nil {
		t.Fatal(err)
	}

	pipeline := ingest.New(store, func(o *ingest.Options) {
		o.Vectors = vectors
		o.Validate = ingest.DefaultValidator()
	})

	srv := server.New(store, vectors, pipeline, "default")

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	if _, err := srv.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool is a helper that calls a tool and returns the text content.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
	}
	return tc.Text
}

// callToolExpectError calls a tool and expects an error response (IsError=true).
func callToolExpectError(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): protocol error: %v", name, err)
	}
	if !result.IsError {
		tc := result.Content[0].(*mcp.TextContent)
		t.Fatalf("CallTool(%s): expected error but got success: %s", name, tc.Text)
	}
	tc := result.Content[0].(*mcp.TextContent)
	return tc.Text
}

func TestIntegration_ListTools(t *testing.T) {
	session := setupIntegration(t)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	expectedTools := []string{
		"switch_context", "get_current_context", "list_contexts",
		"create_entities", "add_observations", "create_relations",
		"search_nodes", "semantic_search", "read_graph",
		"embed_all", "ingest_files", "undo",
	}

	toolNames := make(map[string]bool)
	for _, tool := range result.Tools {
		toolNames[tool.Name] = true
	}

	for _, name := range expectedTools {
		if !toolNames[name] {
			t.Errorf("Missing tool: %s", name)
		}
	}

	if len(result.Tools) != len(expectedTools) {
		t.Errorf("Expected %d tools, got %d", len(expectedTools), len(result.Tools))
	}
}

func TestIntegration_FullWorkflow(t *testing.T) {
	session := setupIntegration(t)

	// Step 1: the session starts in the default context.
	text := callTool(t, session, "get_current_context", nil)
	if text != "default" {
		t.Errorf("current context = %q, want %q", text, "default")
	}

	// Step 2: create_entities
	text = callTool(t, session, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{
				"name":         "Redis",
				"entityType":   "Database",
				"observations": []any{"In-memory data store"},
			},
		},
	})
	var entities []models.Entity
	if err := json.Unmarshal([]byte(text), &entities); err != nil {
		t.Fatalf("parse create_entities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}
	redisID := entities[0].ID
	if !strings.HasPrefix(redisID, "urn:uks:default:database:") {
		t.Errorf("entity id = %q, want urn:uks:default:database: prefix", redisID)
	}

	// Step 3: creating the same name again merges, id stays.
	text = callTool(t, session, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{
				"name":         "Redis",
				"entityType":   "Database",
				"observations": []any{"In-memory data store", "Often used for caching"},
			},
		},
	})
	if err := json.Unmarshal([]byte(text), &entities); err != nil {
		t.Fatalf("parse create_entities: %v", err)
	}
	if entities[0].ID != redisID {
		t.Errorf("merge changed id: %q -> %q", redisID, entities[0].ID)
	}
	if len(entities[0].Observations) != 2 {
		t.Errorf("expected 2 observations after merge, got %d", len(entities[0].Observations))
	}

	// Step 4: relation to a missing endpoint fails and writes nothing.
	errText := callToolExpectError(t, session, "create_relations", map[string]any{
		"relations": []any{
			map[string]any{"from": "Redis", "to": "Caching", "relationType": "enables"},
		},
	})
	if !strings.Contains(errText, "not found") {
		t.Errorf("expected 'not found', got %q", errText)
	}

	// Step 5: create the endpoint, then the relation succeeds.
	callTool(t, session, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{"name": "Caching", "entityType": "Concept"},
		},
	})
	text = callTool(t, session, "create_relations", map[string]any{
		"relations": []any{
			map[string]any{"from": "Redis", "to": "Caching", "relationType": "enables"},
		},
	})
	var rels []models.Relation
	if err := json.Unmarshal([]byte(text), &rels); err != nil {
		t.Fatalf("parse create_relations: %v", err)
	}
	if len(rels) != 1 || rels[0].RelationType != "enables" {
		t.Error("expected 1 relation with type 'enables'")
	}
	if rels[0].FromID != redisID {
		t.Errorf("relation fromId = %q, want %q", rels[0].FromID, redisID)
	}

	// Step 6: add_observations
	text = callTool(t, session, "add_observations", map[string]any{
		"entityName": "Redis",
		"contents":   []any{"Supports pub/sub"},
	})
	if !strings.Contains(text, "Supports pub/sub") {
		t.Error("add_observations should return the new observation")
	}

	// Step 7: search_nodes matches on observation text and carries relations.
	text = callTool(t, session, "search_nodes", map[string]any{
		"query": "caching",
	})
	var found models.Graph
	if err := json.Unmarshal([]byte(text), &found); err != nil {
		t.Fatalf("parse search_nodes: %v", err)
	}
	if len(found.Entities) != 2 {
		t.Errorf("search should match Redis (observation) and Caching (name), got %d entities", len(found.Entities))
	}
	if len(found.Relations) != 1 {
		t.Errorf("search should carry the touching relation, got %d", len(found.Relations))
	}

	// Step 8: embed_all then semantic_search.
	text = callTool(t, session, "embed_all", nil)
	if !strings.Contains(text, "Embedded 2") {
		t.Errorf("expected 'Embedded 2', got %q", text)
	}
	text = callTool(t, session, "semantic_search", map[string]any{
		"query": "in-memory data store",
		"topK":  1,
	})
	var hits []vector.Result
	if err := json.Unmarshal([]byte(text), &hits); err != nil {
		t.Fatalf("parse semantic_search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != redisID {
		t.Errorf("semantic search top hit = %+v, want Redis", hits)
	}

	// Step 9: undo rolls back the last write (the add_observations above).
	callTool(t, session, "undo", nil)
	text = callTool(t, session, "read_graph", nil)
	var graph models.Graph
	if err := json.Unmarshal([]byte(text), &graph); err != nil {
		t.Fatalf("parse read_graph: %v", err)
	}
	redis := graph.FindByName("Redis")
	if redis == nil {
		t.Fatal("Redis missing after undo")
	}
	if len(redis.Observations) != 2 {
		t.Errorf("Redis should have 2 observations after undo, got %d", len(redis.Observations))
	}
	if len(graph.Relations) != 1 {
		t.Errorf("relation created before the undone write should survive, got %d", len(graph.Relations))
	}
}

func TestIntegration_IngestAndContexts(t *testing.T) {
	session := setupIntegration(t)

	// Ingest a JSON document; the unknown relation endpoint becomes a stub.
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.json")
	doc := `{
		"entities":[{"name":"Go","entityType":"Language","observations":["Compiled"]}],
		"relations":[{"from":"Go","to":"Channels","relationType":"provides"}]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	text := callTool(t, session, "ingest_files", map[string]any{
		"paths": []any{path},
	})
	var report ingest.Report
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		t.Fatalf("parse ingest_files: %v", err)
	}
	if report.EntitiesCreated != 1 || report.StubsCreated != 1 || report.RelationsAdded != 1 {
		t.Errorf("unexpected ingest report: %+v", report)
	}
	if report.Embedded != 1 {
		t.Errorf("expected 1 embedded entity, got %d", report.Embedded)
	}

	text = callTool(t, session, "read_graph", nil)
	var graph models.Graph
	if err := json.Unmarshal([]byte(text), &graph); err != nil {
		t.Fatalf("parse read_graph: %v", err)
	}
	stub := graph.FindByName("Channels")
	if stub == nil || stub.EntityType != "Concept" {
		t.Errorf("expected Concept stub for Channels, got %+v", stub)
	}

	// Contexts are isolated namespaces.
	callTool(t, session, "switch_context", map[string]any{"name": "work"})
	if got := callTool(t, session, "get_current_context", nil); got != "work" {
		t.Errorf("current context = %q, want %q", got, "work")
	}
	callTool(t, session, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{"name": "OnlyInWork", "entityType": "Concept"},
		},
	})
	text = callTool(t, session, "read_graph", nil)
	json.Unmarshal([]byte(text), &graph)
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "OnlyInWork" {
		t.Errorf("context 'work' should only have OnlyInWork, got %+v", graph.Entities)
	}

	text = callTool(t, session, "list_contexts", nil)
	var contexts []string
	json.Unmarshal([]byte(text), &contexts)
	if len(contexts) != 2 || contexts[0] != "default" || contexts[1] != "work" {
		t.Errorf("list_contexts = %v, want [default work]", contexts)
	}
}

func TestIntegration_ErrorCases(t *testing.T) {
	session := setupIntegration(t)

	// Error: empty search query
	errText := callToolExpectError(t, session, "search_nodes", map[string]any{
		"query": "",
	})
	if !strings.Contains(errText, "required") {
		t.Errorf("expected 'required', got %q", errText)
	}

	// Error: invalid context name
	errText = callToolExpectError(t, session, "switch_context", map[string]any{
		"name": "bad/name",
	})
	if !strings.Contains(errText, "invalid context") {
		t.Errorf("expected 'invalid context', got %q", errText)
	}

	// Error: add observations to nonexistent entity
	errText = callToolExpectError(t, session, "add_observations", map[string]any{
		"entityName": "DoesNotExist",
		"contents":   []any{"test"},
	})
	if !strings.Contains(errText, "not found") {
		t.Errorf("expected 'not found', got %q", errText)
	}

	// Error: undo with nothing to undo
	errText = callToolExpectError(t, session, "undo", nil)
	if !strings.Contains(errText, "Undo failed") {
		t.Errorf("expected 'Undo failed', got %q", errText)
	}

	// Error: ingest with no paths
	errText = callToolExpectError(t, session, "ingest_files", map[string]any{
		"paths": []any{},
	})
	if !strings.Contains(errText, "required") {
		t.Errorf("expected 'required', got %q", errText)
	}

	// Error: semantic search with empty query
	errText = callToolExpectError(t, session, "semantic_search", map[string]any{
		"query": "",
	})
	if !strings.Contains(errText, "required") {
		t.Errorf("expected 'required', got %q", errText)
	}
}
