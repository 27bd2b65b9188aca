package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ukstore/uks/internal/ingest"
	"github.com/ukstore/uks/internal/session"
	"github.com/ukstore/uks/internal/storage"
	"github.com/ukstore/uks/internal/vector"
)

// KnowledgeTools holds references needed by knowledge graph tool handlers.
type KnowledgeTools struct {
	Store    *storage.Store
	Vectors  *vector.Index
	Pipeline *ingest.Pipeline
	Session  *session.Session
}

// --- Input types ---

type CreateEntitiesInput struct {
	Entities []EntityInput `json:"entities" jsonschema:"Array of entities to create or merge by name"`
}

type EntityInput struct {
	Name         string   `json:"name" jsonschema:"Entity name (dedup key; an existing name merges observations)"`
	EntityType   string   `json:"entityType" jsonschema:"Entity type (e.g., person, technology, concept)"`
	Observations []string `json:"observations,omitempty" jsonschema:"Initial observations about the entity"`
}

type AddObservationsInput struct {
	EntityName string   `json:"entityName" jsonschema:"Name or URN id of the entity"`
	Contents   []string `json:"contents" jsonschema:"Observation texts to merge in"`
}

type CreateRelationsInput struct {
	Relations []RelationInput `json:"relations" jsonschema:"Array of relations to create"`
}

type RelationInput struct {
	From         string `json:"from" jsonschema:"Source entity name or id (must exist)"`
	To           string `json:"to" jsonschema:"Target entity name or id (must exist)"`
	RelationType string `json:"relationType" jsonschema:"Relation type in active voice (e.g., uses, depends_on, supports)"`
}

type SearchNodesInput struct {
	Query string `json:"query" jsonschema:"Substring matched case-insensitively against names and observations"`
}

type SemanticSearchInput struct {
	Query string `json:"query" jsonschema:"Free-text query scored by embedding similarity"`
	TopK  int    `json:"topK,omitempty" jsonschema:"Number of results to return (default 5)"`
}

type ReadGraphInput struct{}

type EmbedAllInput struct {
	Force bool `json:"force,omitempty" jsonschema:"Re-embed entities that already have a vector record"`
}

type IngestFilesInput struct {
	Paths []string `json:"paths" jsonschema:"Input files to ingest as one transaction"`
}

type UndoInput struct{}

// --- Handlers ---

func (t *KnowledgeTools) CreateEntities(_ context.Context, _ *mcp.CallToolRequest, input CreateEntitiesInput) (*mcp.CallToolResult, any, error) {
	inputs := make([]storage.EntityInput, len(input.Entities))
	for i, e := range input.Entities {
		inputs[i] = storage.EntityInput{Name: e.Name, EntityType: e.EntityType, Observations: e.Observations}
	}

	created, err := t.Store.AddEntities(t.Session.Current(), inputs)
	if err != nil {
		return toolError("Failed to create entities: %v", err), nil, nil
	}
	return toolJSON(created)
}

func (t *KnowledgeTools) AddObservations(_ context.Context, _ *mcp.CallToolRequest, input AddObservationsInput) (*mcp.CallToolResult, any, error) {
	entity, err := t.Store.AddObservations(t.Session.Current(), input.EntityName, input.Contents)
	if err != nil {
		return toolError("Failed to add observations for %q: %v", input.EntityName, err), nil, nil
	}
	return toolJSON(entity)
}

func (t *KnowledgeTools) CreateRelations(_ context.Context, _ *mcp.CallToolRequest, input CreateRelationsInput) (*mcp.CallToolResult, any, error) {
	inputs := make([]storage.RelationInput, len(input.Relations))
	for i, r := range input.Relations {
		inputs[i] = storage.RelationInput{From: r.From, To: r.To, RelationType: r.RelationType}
	}

	created, err := t.Store.AddRelations(t.Session.Current(), inputs)
	if err != nil {
		return toolError("Failed to create relations: %v", err), nil, nil
	}
	return toolJSON(created)
}

func (t *KnowledgeTools) SearchNodes(_ context.Context, _ *mcp.CallToolRequest, input SearchNodesInput) (*mcp.CallToolResult, any, error) {
	result, err := t.Store.Search(t.Session.Current(), input.Query)
	if err != nil {
		return toolError("Search failed: %v", err), nil, nil
	}
	return toolJSON(result)
}

func (t *KnowledgeTools) SemanticSearch(ctx context.Context, _ *mcp.CallToolRequest, input SemanticSearchInput) (*mcp.CallToolResult, any, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}
	results, err := t.Vectors.Search(ctx, input.Query, topK)
	if err != nil {
		return toolError("Semantic search failed: %v", err), nil, nil
	}
	return toolJSON(results)
}

func (t *KnowledgeTools) ReadGraph(_ context.Context, _ *mcp.CallToolRequest, _ ReadGraphInput) (*mcp.CallToolResult, any, error) {
	g, err := t.Store.LoadGraph(t.Session.Current())
	if err != nil {
		return toolError("Failed to read graph: %v", err), nil, nil
	}
	return toolJSON(g)
}

func (t *KnowledgeTools) EmbedAll(ctx context.Context, _ *mcp.CallToolRequest, input EmbedAllInput) (*mcp.CallToolResult, any, error) {
	g, err := t.Store.LoadGraph(t.Session.Current())
	if err != nil {
		return toolError("Failed to read graph: %v", err), nil, nil
	}
	count, err := t.Vectors.EmbedAll(ctx, g, input.Force)
	if err != nil {
		return toolError("Embed-all failed: %v", err), nil, nil
	}
	return toolText(fmt.Sprintf("Embedded %d entities.", count)), nil, nil
}

func (t *KnowledgeTools) IngestFiles(ctx context.Context, _ *mcp.CallToolRequest, input IngestFilesInput) (*mcp.CallToolResult, any, error) {
	report, err := t.Pipeline.Run(ctx, t.Session.Current(), input.Paths)
	if err != nil {
		return toolError("Ingest failed: %v", err), nil, nil
	}
	return toolJSON(report)
}

func (t *KnowledgeTools) Undo(_ context.Context, _ *mcp.CallToolRequest, _ UndoInput) (*mcp.CallToolResult, any, error) {
	current := t.Session.Current()
	if err := t.Store.Undo(current); err != nil {
		return toolError("Undo failed: %v", err), nil, nil
	}
	return toolText(fmt.Sprintf("Context %q restored to its most recent snapshot.", current)), nil, nil
}
