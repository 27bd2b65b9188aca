// Package ingest batches many file-derived mutations into one graph store
// transaction, delegating validation, field mapping and embedding to
// injected collaborators.
package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/logging"
	"github.com/ukstore/uks/internal/models"
	"github.com/ukstore/uks/internal/storage"
	"github.com/ukstore/uks/internal/vector"
)

// stubEntityType is the type given to auto-vivified relation targets.
// Auto-vivification is an ingest policy; the graph store itself rejects
// relations with unresolved endpoints.
const stubEntityType = "Concept"

// Report summarizes one ingest run. Per-file failures are collected here
// rather than aborting the batch.
type Report struct {
	FilesProcessed  int      `json:"filesProcessed"`
	FilesSkipped    int      `json:"filesSkipped"`
	EntitiesCreated int      `json:"entitiesCreated"`
	EntitiesMerged  int      `json:"entitiesMerged"`
	StubsCreated    int      `json:"stubsCreated"`
	RelationsAdded  int      `json:"relationsAdded"`
	Embedded        int      `json:"embedded"`
	Errors          []string `json:"errors,omitempty"`
}

// Options contains configuration for a Pipeline.
type Options struct {
	// Vectors, when set, receives an embedding upsert for every entity the
	// batch creates or merges, inside the graph transaction.
	Vectors *vector.Index

	// Validate, when set, is applied to every file-derived record; records
	// that fail are dropped and reported.
	Validate ValidateFunc

	// Sources are queried in order; JSONSource is always registered last as
	// the built-in fallback.
	Sources []Source

	Logger *logging.Logger
}

// Pipeline turns input files into a single knowledge-graph transaction.
type Pipeline struct {
	store   *storage.Store
	vectors *vector.Index
	sources []Source
	validat ValidateFunc
	logger  *logging.Logger
}

// New creates a Pipeline writing through the given store.
func New(store *storage.Store, optFns ...func(o *Options)) *Pipeline {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	return &Pipeline{
		store:   store,
		vectors: opts.Vectors,
		sources: append(opts.Sources, JSONSource{}),
		validat: opts.Validate,
		logger:  opts.Logger,
	}
}

// Register appends a source to the lookup list. Earlier registrations win.
func (p *Pipeline) Register(src Source) {
	p.sources = append(p.sources[:len(p.sources)-1], src, JSONSource{})
}

// Run ingests the given files into contextName as one transaction: either
// every queued mutation lands or none do. Files that cannot be read, matched
// to a source, or parsed are skipped and reported; record-level validation
// failures drop the record and are reported.
func (p *Pipeline) Run(ctx context.Context, contextName string, paths []string) (*Report, error) {
	if len(paths) == 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "at least one input file is required")
	}

	report := &Report{}
	var payloads []*Payload
	for _, path := range paths {
		payload, err := p.extract(path)
		if err != nil {
			report.FilesSkipped++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if payload == nil {
			report.FilesSkipped++
			continue
		}
		payload = p.validated(payload, report)
		report.FilesProcessed++
		payloads = append(payloads, payload)
	}

	if len(payloads) == 0 {
		return report, nil
	}

	var embedded []*models.Entity
	err := p.store.UpdateGraph(contextName, func(g *models.Graph) error {
		for _, payload := range payloads {
			for _, rec := range payload.Entities {
				e, created := storage.UpsertEntity(g, contextName, storage.EntityInput{
					Name:         rec.Name,
					EntityType:   rec.EntityType,
					Observations: rec.Observations,
				})
				if created {
					report.EntitiesCreated++
				} else {
					report.EntitiesMerged++
				}
				embedded = append(embedded, e)
			}
			for _, rec := range payload.Relations {
				from := g.FindByNameOrID(rec.From)
				if from == nil {
					from, _ = storage.UpsertEntity(g, contextName, storage.EntityInput{Name: rec.From, EntityType: stubEntityType})
					report.StubsCreated++
				}
				to := g.FindByNameOrID(rec.To)
				if to == nil {
					to, _ = storage.UpsertEntity(g, contextName, storage.EntityInput{Name: rec.To, EntityType: stubEntityType})
					report.StubsCreated++
				}
				if _, added := storage.UpsertRelation(g, from, to, rec.RelationType); added {
					report.RelationsAdded++
				}
			}
		}

		// Embeddings are written inside the transaction so the vector file
		// stays consistent with newly created entities. Embedding failure
		// degrades to zero vectors inside Upsert and never aborts the batch;
		// a vector storage failure is reported but does not fail the graph
		// write either.
		if p.vectors != nil {
			for _, e := range embedded {
				if _, err := p.vectors.Upsert(ctx, e.ID, vector.EntityText(e)); err != nil {
					p.logger.Warn("vector upsert failed during ingest", "entity", e.Name, "error", err)
					report.Errors = append(report.Errors, fmt.Sprintf("embed %s: %v", e.Name, err))
					continue
				}
				report.Embedded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("ingest batch committed",
		"context", contextName,
		"files", report.FilesProcessed,
		"entitiesCreated", report.EntitiesCreated,
		"entitiesMerged", report.EntitiesMerged,
		"relationsAdded", report.RelationsAdded,
		"embedded", report.Embedded,
	)
	return report, nil
}

func (p *Pipeline) extract(path string) (*Payload, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, src := range p.sources {
		if src.CanHandle(path) {
			return src.Ingest(path, content)
		}
	}
	return nil, fmt.Errorf("no ingest source handles %s", path)
}

// validated filters payload records through the schema predicate, reporting
// and dropping failures.
func (p *Pipeline) validated(payload *Payload, report *Report) *Payload {
	if p.validat == nil {
		return payload
	}
	out := &Payload{}
	for _, rec := range payload.Entities {
		if ok, violations := p.validat(rec); !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("entity %q rejected: %v", rec.Name, violations))
			continue
		}
		out.Entities = append(out.Entities, rec)
	}
	for _, rec := range payload.Relations {
		if ok, violations := p.validat(rec); !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("relation %q->%q rejected: %v", rec.From, rec.To, violations))
			continue
		}
		out.Relations = append(out.Relations, rec)
	}
	return out
}
