package models

// Entity represents a typed node in the knowledge graph. The ID is assigned
// once at creation and never changes; Name is the human-facing dedup key.
type Entity struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Relation represents a directed, typed edge between two entities.
// FromName and ToName are denormalized copies of the endpoint names at
// creation time so raw file dumps stay readable.
type Relation struct {
	FromID       string `json:"fromId"`
	ToID         string `json:"toId"`
	FromName     string `json:"fromName"`
	ToName       string `json:"toName"`
	RelationType string `json:"relationType"`
}

// VectorRecord is one persisted embedding, keyed by the entity id it belongs
// to. Text holds a truncated preview of the embedded text.
type VectorRecord struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Graph holds the full entity and relation set for one context.
type Graph struct {
	Entities  []*Entity   `json:"entities"`
	Relations []*Relation `json:"relations"`
}

// FindByName returns the entity with the given name, or nil.
func (g *Graph) FindByName(name string) *Entity {
	for _, e := range g.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FindByNameOrID resolves an entity reference that may be either a name or a
// URN id. Returns nil when nothing matches.
func (g *Graph) FindByNameOrID(ref string) *Entity {
	for _, e := range g.Entities {
		if e.Name == ref || e.ID == ref {
			return e
		}
	}
	return nil
}

// HasRelation reports whether an edge with the given endpoints and type
// already exists.
func (g *Graph) HasRelation(fromID, toID, relationType string) bool {
	for _, r := range g.Relations {
		if r.FromID == fromID && r.ToID == toID && r.RelationType == relationType {
			return true
		}
	}
	return false
}
