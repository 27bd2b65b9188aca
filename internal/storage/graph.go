package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/models"
)

const (
	formatMarker  = "_aim"
	formatSource  = "uks"
	formatVersion = 2

	urnPrefix = "urn:uks"

	recordTypeEntity   = "entity"
	recordTypeRelation = "relation"
)

// maxLineSize bounds a single JSONL line during parse.
const maxLineSize = 4 << 20

// idNamespace is the fixed UUIDv5 namespace used to derive deterministic ids
// for legacy records that predate the id field.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte(urnPrefix))

var contextPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type headerRecord struct {
	Type    string `json:"type"`
	Source  string `json:"source"`
	Version int    `json:"version"`
}

type entityRecord struct {
	Type string `json:"type"`
	models.Entity
}

type relationRecord struct {
	Type string `json:"type"`
	models.Relation
}

type typeProbe struct {
	Type string `json:"type"`
}

// graphFileName returns the file name for a context's graph.
func graphFileName(context string) string {
	return "graph-" + context + ".jsonl"
}

func validateContext(context string) error {
	if context == "" {
		return kgerr.New(kgerr.CodeValidation, "context is required")
	}
	if !contextPattern.MatchString(context) {
		return kgerr.New(kgerr.CodeValidation, "invalid context name %q", context)
	}
	return nil
}

// NewEntityID mints a fresh URN for an entity created in the given context.
func NewEntityID(context, entityType string) string {
	return fmt.Sprintf("%s:%s:%s:%s", urnPrefix, context, typeSlug(entityType), uuid.New())
}

// legacyEntityID derives a deterministic id for an entity parsed from a
// pre-versioned file, stable across repeated loads of the same name.
func legacyEntityID(context, name, entityType string) string {
	return fmt.Sprintf("%s:%s:%s:%s", urnPrefix, context, typeSlug(entityType), uuid.NewSHA1(idNamespace, []byte(name)))
}

var slugCleanup = regexp.MustCompile(`[^a-z0-9]+`)

func typeSlug(entityType string) string {
	slug := slugCleanup.ReplaceAllString(strings.ToLower(entityType), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "entity"
	}
	return slug
}

func (s *Store) graphPath(context string) string {
	return filepath.Join(s.dir, graphFileName(context))
}

// LoadGraph parses the context's graph file. A missing file is an empty
// graph, not an error. Malformed lines are skipped so partial corruption
// degrades gracefully instead of aborting the read.
func (s *Store) LoadGraph(context string) (*models.Graph, error) {
	if err := validateContext(context); err != nil {
		return nil, err
	}
	return s.loadGraph(context)
}

func (s *Store) loadGraph(context string) (*models.Graph, error) {
	f, err := os.Open(s.graphPath(context))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.Graph{}, nil
		}
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "open graph file for %q", context)
	}
	defer f.Close()

	g := &models.Graph{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe typeProbe
		if err := json.Unmarshal(line, &probe); err != nil {
			s.logger.Warn("skipping malformed graph line", "context", context, "error", err)
			continue
		}
		switch probe.Type {
		case formatMarker:
			// Header; version differences are handled per-record below.
		case recordTypeEntity:
			var rec entityRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				s.logger.Warn("skipping malformed entity line", "context", context, "error", err)
				continue
			}
			e := rec.Entity
			if e.Name == "" {
				continue
			}
			if e.ID == "" {
				e.ID = legacyEntityID(context, e.Name, e.EntityType)
			}
			g.Entities = append(g.Entities, &e)
		case recordTypeRelation:
			var rec relationRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				s.logger.Warn("skipping malformed relation line", "context", context, "error", err)
				continue
			}
			r := rec.Relation
			g.Relations = append(g.Relations, &r)
		default:
			s.logger.Warn("skipping unknown record type", "context", context, "recordType", probe.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "read graph file for %q", context)
	}

	resolveLegacyEndpoints(g)
	return g, nil
}

// resolveLegacyEndpoints fills relation endpoint ids for records written
// before ids existed, matching by the denormalized names.
func resolveLegacyEndpoints(g *models.Graph) {
	for _, r := range g.Relations {
		if r.FromID == "" && r.FromName != "" {
			if e := g.FindByName(r.FromName); e != nil {
				r.FromID = e.ID
			}
		}
		if r.ToID == "" && r.ToName != "" {
			if e := g.FindByName(r.ToName); e != nil {
				r.ToID = e.ID
			}
		}
	}
}

// UpdateGraph is the sole write path: acquire the lock, load the graph, run
// the mutator, snapshot the previous file, then atomically replace the full
// file. A mutator error aborts the transaction with nothing written and no
// snapshot taken. The lock is always released, even on failure.
func (s *Store) UpdateGraph(context string, mutate func(g *models.Graph) error) error {
	if err := validateContext(context); err != nil {
		return err
	}
	if mutate == nil {
		return kgerr.New(kgerr.CodeValidation, "mutator is required")
	}

	if err := s.lock.Acquire(s.opts.LockMaxRetries); err != nil {
		return err
	}
	defer s.lock.Release()

	g, err := s.loadGraph(context)
	if err != nil {
		return err
	}
	if err := mutate(g); err != nil {
		return err
	}
	if _, err := s.backups.CreateSnapshot(context); err != nil {
		return err
	}
	return s.writeGraph(context, g)
}

func (s *Store) writeGraph(context string, g *models.Graph) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(headerRecord{Type: formatMarker, Source: formatSource, Version: formatVersion}); err != nil {
		return kgerr.Wrap(kgerr.CodeStorage, err, "encode graph header")
	}
	for _, e := range g.Entities {
		if err := enc.Encode(entityRecord{Type: recordTypeEntity, Entity: *e}); err != nil {
			return kgerr.Wrap(kgerr.CodeStorage, err, "encode entity %q", e.Name)
		}
	}
	for _, r := range g.Relations {
		if err := enc.Encode(relationRecord{Type: recordTypeRelation, Relation: *r}); err != nil {
			return kgerr.Wrap(kgerr.CodeStorage, err, "encode relation %s->%s", r.FromName, r.ToName)
		}
	}
	return ReplaceFile(s.graphPath(context), buf.Bytes())
}

// Undo restores the most recent pre-write snapshot over the live graph file.
// Single level only; there is no redo.
func (s *Store) Undo(context string) error {
	if err := validateContext(context); err != nil {
		return err
	}
	if err := s.lock.Acquire(s.opts.LockMaxRetries); err != nil {
		return err
	}
	defer s.lock.Release()
	return s.backups.RestoreLatest(context)
}

// Search performs a case-insensitive substring match against entity names
// and observations, returning matched entities plus every relation touching
// one. It reads without the lock: a concurrent writer replaces the file
// whole, so the search observes a pre- or post-write state, never a torn one.
func (s *Store) Search(context, query string) (*models.Graph, error) {
	if err := validateContext(context); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, kgerr.New(kgerr.CodeValidation, "query is required")
	}

	g, err := s.loadGraph(context)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	result := &models.Graph{}
	matched := make(map[string]bool)
	for _, e := range g.Entities {
		if entityMatches(e, q) {
			result.Entities = append(result.Entities, e)
			matched[e.ID] = true
		}
	}
	for _, r := range g.Relations {
		if matched[r.FromID] || matched[r.ToID] {
			result.Relations = append(result.Relations, r)
		}
	}
	return result, nil
}

func entityMatches(e *models.Entity, loweredQuery string) bool {
	if strings.Contains(strings.ToLower(e.Name), loweredQuery) {
		return true
	}
	for _, obs := range e.Observations {
		if strings.Contains(strings.ToLower(obs), loweredQuery) {
			return true
		}
	}
	return false
}

// ListContexts enumerates the contexts that have a graph file, sorted.
func (s *Store) ListContexts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "list data dir %s", s.dir)
	}
	var contexts []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "graph-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		contexts = append(contexts, strings.TrimSuffix(strings.TrimPrefix(name, "graph-"), ".jsonl"))
	}
	sort.Strings(contexts)
	return contexts, nil
}
