package storage

import (
	"strings"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/models"
)

// EntityInput describes one entity to create or merge.
type EntityInput struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// RelationInput describes one relation to create. From and To may each be an
// entity name or a URN id.
type RelationInput struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// UpsertEntity applies the create-or-merge rule to an in-memory graph: a new
// name creates an entity with a fresh URN; an existing name keeps its id and
// gains the union of observations, first-seen order preserved. Reports
// whether the entity was created.
//
// Exported so batch callers (the ingest pipeline) can queue many upserts
// inside a single UpdateGraph transaction.
func UpsertEntity(g *models.Graph, context string, in EntityInput) (*models.Entity, bool) {
	if e := g.FindByName(in.Name); e != nil {
		mergeObservations(e, in.Observations)
		return e, false
	}
	e := &models.Entity{
		ID:           NewEntityID(context, in.EntityType),
		Name:         in.Name,
		EntityType:   in.EntityType,
		Observations: append([]string(nil), in.Observations...),
	}
	g.Entities = append(g.Entities, e)
	return e, true
}

// mergeObservations unions new observations into the entity, skipping ones
// already present. A merge never removes an observation.
func mergeObservations(e *models.Entity, observations []string) {
	seen := make(map[string]bool, len(e.Observations))
	for _, obs := range e.Observations {
		seen[obs] = true
	}
	for _, obs := range observations {
		if !seen[obs] {
			e.Observations = append(e.Observations, obs)
			seen[obs] = true
		}
	}
}

// UpsertRelation adds a directed edge between two resolved entities unless
// the same (from, to, type) edge already exists. Reports whether an edge was
// added.
func UpsertRelation(g *models.Graph, from, to *models.Entity, relationType string) (*models.Relation, bool) {
	for _, r := range g.Relations {
		if r.FromID == from.ID && r.ToID == to.ID && r.RelationType == relationType {
			return r, false
		}
	}
	r := &models.Relation{
		FromID:       from.ID,
		ToID:         to.ID,
		FromName:     from.Name,
		ToName:       to.Name,
		RelationType: relationType,
	}
	g.Relations = append(g.Relations, r)
	return r, true
}

// AddEntity upserts a single entity in its own transaction.
func (s *Store) AddEntity(context string, in EntityInput) (*models.Entity, error) {
	out, err := s.AddEntities(context, []EntityInput{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// AddEntities upserts entities by name in one transaction. Validation runs
// before the lock is taken.
func (s *Store) AddEntities(context string, inputs []EntityInput) ([]*models.Entity, error) {
	if len(inputs) == 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "at least one entity is required")
	}
	for _, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return nil, kgerr.New(kgerr.CodeValidation, "entity name is required")
		}
	}

	out := make([]*models.Entity, 0, len(inputs))
	err := s.UpdateGraph(context, func(g *models.Graph) error {
		for _, in := range inputs {
			e, _ := UpsertEntity(g, context, in)
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddObservations merges observations into an existing entity. The entity
// must already exist by name or id.
func (s *Store) AddObservations(context, entity string, contents []string) (*models.Entity, error) {
	if strings.TrimSpace(entity) == "" {
		return nil, kgerr.New(kgerr.CodeValidation, "entity name is required")
	}
	if len(contents) == 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "at least one observation is required")
	}

	var out *models.Entity
	err := s.UpdateGraph(context, func(g *models.Graph) error {
		e := g.FindByNameOrID(entity)
		if e == nil {
			return kgerr.New(kgerr.CodeNotFound, "entity %q not found", entity)
		}
		mergeObservations(e, contents)
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddRelation adds a single relation in its own transaction.
func (s *Store) AddRelation(context string, in RelationInput) (*models.Relation, error) {
	out, err := s.AddRelations(context, []RelationInput{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// AddRelations adds directed edges in one transaction. Both endpoints of
// every relation must resolve by name or id; an unresolved endpoint aborts
// the whole transaction with NotFound and the graph file unchanged. There is
// no auto-vivification at this layer.
func (s *Store) AddRelations(context string, inputs []RelationInput) ([]*models.Relation, error) {
	if len(inputs) == 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "at least one relation is required")
	}
	for _, in := range inputs {
		if strings.TrimSpace(in.From) == "" || strings.TrimSpace(in.To) == "" {
			return nil, kgerr.New(kgerr.CodeValidation, "relation endpoints are required")
		}
		if strings.TrimSpace(in.RelationType) == "" {
			return nil, kgerr.New(kgerr.CodeValidation, "relation type is required")
		}
	}

	out := make([]*models.Relation, 0, len(inputs))
	err := s.UpdateGraph(context, func(g *models.Graph) error {
		for _, in := range inputs {
			from := g.FindByNameOrID(in.From)
			if from == nil {
				return kgerr.New(kgerr.CodeNotFound, "relation endpoint %q not found", in.From)
			}
			to := g.FindByNameOrID(in.To)
			if to == nil {
				return kgerr.New(kgerr.CodeNotFound, "relation endpoint %q not found", in.To)
			}
			r, _ := UpsertRelation(g, from, to, in.RelationType)
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
