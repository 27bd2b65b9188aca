package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ukstore/uks/internal/config"
	"github.com/ukstore/uks/internal/ingest"
	"github.com/ukstore/uks/internal/logging"
	"github.com/ukstore/uks/internal/server"
	"github.com/ukstore/uks/internal/storage"
	"github.com/ukstore/uks/internal/vector"
)

func main() {
	transport := flag.String("transport", "stdio", "Transport mode: stdio or http")
	port := flag.String("port", "8081", "HTTP port (only used with --transport http)")
	dataDir := flag.String("data-dir", "", "Directory for graph and vector files (overrides config)")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	var logger *logging.Logger
	if cfg.Log.Format == "json" {
		logger = logging.NewJSON(logging.ParseLevel(cfg.Log.Level))
	} else {
		logger = logging.NewText(logging.ParseLevel(cfg.Log.Level))
	}

	store, err := storage.New(cfg.DataDir, func(o *storage.Options) {
		o.BackupRetain = cfg.Backups.Retain
		o.CompressBackups = cfg.Backups.Compress
		o.LockMaxRetries = cfg.Lock.MaxRetries
		o.LockStaleTimeout = cfg.LockStaleTimeout()
		o.LockRetryDelay = cfg.LockRetryDelay()
		o.Logger = logger
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	// The embedding model is an external collaborator. This build ships the
	// deterministic hashing embedder as a stand-in; a real model failing or
	// missing degrades records to zero vectors rather than breaking writes.
	embed := vector.HashEmbedder(cfg.Embedding.Dimension)
	if cfg.Embedding.RatePerSecond > 0 {
		embed = vector.RateLimited(embed, cfg.Embedding.RatePerSecond)
	}

	vectors, err := vector.New(cfg.DataDir, cfg.Embedding.Dimension, embed, func(o *vector.Options) {
		o.LockMaxRetries = cfg.Lock.MaxRetries
		o.LockStaleTimeout = cfg.LockStaleTimeout()
		o.LockRetryDelay = cfg.LockRetryDelay()
		o.Logger = logger
	})
	if err != nil {
		log.Fatalf("Failed to open vector index: %v", err)
	}

	pipeline := ingest.New(store, func(o *ingest.Options) {
		o.Vectors = vectors
		o.Validate = ingest.DefaultValidator()
		o.Logger = logger
	})

	srv := server.New(store, vectors, pipeline, cfg.DefaultContext)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *transport {
	case "stdio":
		logger.Info("graph MCP server starting", "transport", "stdio", "dataDir", cfg.DataDir)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case "http":
		addr := ":" + *port
		handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return srv
		}, nil)
		logger.Info("graph MCP server listening", "addr", addr, "dataDir", cfg.DataDir)
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	default:
		log.Fatalf("Unknown transport: %s (use stdio or http)", *transport)
	}
}
