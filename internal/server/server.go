package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ukstore/uks/internal/ingest"
	"github.com/ukstore/uks/internal/session"
	"github.com/ukstore/uks/internal/storage"
	"github.com/ukstore/uks/internal/tools"
	"github.com/ukstore/uks/internal/vector"
)

// New creates a fully configured MCP server with all tools registered.
func New(store *storage.Store, vectors *vector.Index, pipeline *ingest.Pipeline, defaultContext string) *mcp.Server {
	sess := session.New(defaultContext)

	ct := &tools.ContextTools{Store: store, Session: sess}
	kt := &tools.KnowledgeTools{Store: store, Vectors: vectors, Pipeline: pipeline, Session: sess}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "uks-graph",
		Version: "0.1.0",
	}, nil)

	// Context management tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "switch_context",
		Description: "Switch the active graph context (namespace) for the current session",
	}, ct.SwitchContext)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_current_context",
		Description: "Get the name of the currently active graph context",
	}, ct.GetCurrentContext)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_contexts",
		Description: "List all contexts that have a graph file",
	}, ct.ListContexts)

	// Knowledge graph tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_entities",
		Description: "Create entities, merging observations into any entity that already exists by name",
	}, kt.CreateEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_observations",
		Description: "Merge observations into an existing entity",
	}, kt.AddObservations)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_relations",
		Description: "Create directed relations between existing entities (duplicates are no-ops)",
	}, kt.CreateRelations)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_nodes",
		Description: "Keyword search over entity names and observations, including touching relations",
	}, kt.SearchNodes)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Vector-similarity search over embedded entities",
	}, kt.SemanticSearch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_graph",
		Description: "Read the entire knowledge graph of the current context",
	}, kt.ReadGraph)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "embed_all",
		Description: "Backfill vector records for entities that lack one (force re-embeds everything)",
	}, kt.EmbedAll)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ingest_files",
		Description: "Ingest input files into the current context as a single transaction",
	}, kt.IngestFiles)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "undo",
		Description: "Restore the current context's graph to its most recent pre-write snapshot",
	}, kt.Undo)

	return srv
}
