package ingest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// EntityRecord is one file-derived entity. Validation tags drive the default
// schema predicate.
type EntityRecord struct {
	Name         string   `json:"name" validate:"required"`
	EntityType   string   `json:"entityType" validate:"required"`
	Observations []string `json:"observations" validate:"dive,required"`
}

// RelationRecord is one file-derived relation. Target entities that do not
// exist yet are auto-vivified as Concept stubs by the pipeline.
type RelationRecord struct {
	From         string `json:"from" validate:"required"`
	To           string `json:"to" validate:"required"`
	RelationType string `json:"relationType" validate:"required"`
}

// Payload is the graph data extracted from one file.
type Payload struct {
	Entities  []EntityRecord
	Relations []RelationRecord
}

// Source converts one kind of input file into graph payloads. Sources are
// registered into a plain list and queried in registration order; the first
// one whose CanHandle accepts the path wins.
type Source interface {
	// CanHandle reports whether this source understands the file at path.
	CanHandle(path string) bool

	// Ingest extracts graph data from the file content. Returning a nil
	// payload with a nil error means the file holds nothing ingestible.
	Ingest(path string, content []byte) (*Payload, error)
}

// JSONSource ingests .json documents of the form
// {"entities": [...], "relations": [...]}.
type JSONSource struct{}

func (JSONSource) CanHandle(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func (JSONSource) Ingest(path string, content []byte) (*Payload, error) {
	var doc struct {
		Entities  []EntityRecord   `json:"entities"`
		Relations []RelationRecord `json:"relations"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Entities) == 0 && len(doc.Relations) == 0 {
		return nil, nil
	}
	return &Payload{Entities: doc.Entities, Relations: doc.Relations}, nil
}
