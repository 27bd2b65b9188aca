// Package vector implements the embedding-similarity index persisted in
// vectors.jsonl beside the graph files. Search is a linear cosine scan,
// adequate only for small graphs.
package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/logging"
	"github.com/ukstore/uks/internal/models"
	"github.com/ukstore/uks/internal/storage"
)

const (
	// vectorsFileName is the single vector file shared by all contexts.
	vectorsFileName = "vectors.jsonl"

	// previewLimit truncates the stored text preview.
	previewLimit = 200

	// embedConcurrency bounds parallel embedding calls during EmbedAll.
	embedConcurrency = 4
)

// Result is one ranked semantic search hit.
type Result struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Options contains configuration for an Index.
type Options struct {
	LockMaxRetries   int
	LockStaleTimeout time.Duration
	LockRetryDelay   time.Duration
	Logger           *logging.Logger
}

// Index stores one vector record per embedded entity. Records are updated in
// place by id and the full set is rewritten on every change. Cross-process
// writers are serialized by a dedicated lock marker (.vectors.lock) with the
// same coordinator the graph file uses, so concurrent upserts cannot lose
// updates.
type Index struct {
	path   string
	dim    int
	embed  Func
	lock   *storage.Lock
	logger *logging.Logger
	opts   Options

	mu      sync.Mutex
	records map[string]*models.VectorRecord
	order   []string
}

// New creates an Index over dir/vectors.jsonl with the given expected
// dimensionality and embedding function. embed may be nil; every record then
// gets a zero vector. Existing records are loaded; malformed lines are
// skipped.
func New(dir string, dim int, embed Func, optFns ...func(o *Options)) (*Index, error) {
	if dim <= 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "vector dimension must be positive, got %d", dim)
	}
	opts := Options{
		LockMaxRetries:   storage.DefaultLockRetries,
		LockStaleTimeout: storage.DefaultLockStaleTimeout,
		LockRetryDelay:   storage.DefaultLockRetryDelay,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "create data dir %s", dir)
	}

	ix := &Index{
		path:    filepath.Join(dir, vectorsFileName),
		dim:     dim,
		embed:   embed,
		lock:    storage.NewLock(filepath.Join(dir, ".vectors.lock"), opts.LockStaleTimeout, opts.LockRetryDelay, opts.Logger),
		logger:  opts.Logger,
		opts:    opts,
		records: make(map[string]*models.VectorRecord),
	}
	if err := ix.loadLocked(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Len returns the number of stored records.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.records)
}

// Upsert embeds text and stores or overwrites the record for id, persisting
// the full set. An unavailable or failing embedder degrades to a zero vector
// of the configured dimensionality instead of failing the write.
func (ix *Index) Upsert(ctx context.Context, id, text string) (*models.VectorRecord, error) {
	if id == "" {
		return nil, kgerr.New(kgerr.CodeValidation, "vector record id is required")
	}
	vec := ix.embedOrZero(ctx, text)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.lock.Acquire(ix.opts.LockMaxRetries); err != nil {
		return nil, err
	}
	defer ix.lock.Release()

	ix.mergeFromDisk()
	rec := &models.VectorRecord{ID: id, Text: preview(text), Vector: vec}
	ix.put(rec)
	if err := ix.persistLocked(); err != nil {
		return nil, err
	}
	return rec, nil
}

// EmbedAll backfills a record for every entity in the graph snapshot that
// lacks one, or for all entities when force is set. Embeddings are computed
// concurrently with a bounded group, then persisted in one write. Returns
// the number of records written.
func (ix *Index) EmbedAll(ctx context.Context, g *models.Graph, force bool) (int, error) {
	ix.mu.Lock()
	var pending []*models.Entity
	for _, e := range g.Entities {
		if _, ok := ix.records[e.ID]; !ok || force {
			pending = append(pending, e)
		}
	}
	ix.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	vecs := make([][]float32, len(pending))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(embedConcurrency)
	for i, e := range pending {
		grp.Go(func() error {
			vecs[i] = ix.embedOrZero(grpCtx, EntityText(e))
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.lock.Acquire(ix.opts.LockMaxRetries); err != nil {
		return 0, err
	}
	defer ix.lock.Release()

	ix.mergeFromDisk()
	for i, e := range pending {
		ix.put(&models.VectorRecord{ID: e.ID, Text: preview(EntityText(e)), Vector: vecs[i]})
	}
	if err := ix.persistLocked(); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Search embeds the query, scores every stored record by cosine similarity
// and returns the topK highest, descending.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, kgerr.New(kgerr.CodeValidation, "query is required")
	}
	if topK <= 0 {
		return nil, kgerr.New(kgerr.CodeValidation, "topK must be positive, got %d", topK)
	}
	qv := ix.embedOrZero(ctx, query)

	ix.mu.Lock()
	results := make([]Result, 0, len(ix.records))
	for _, id := range ix.order {
		rec := ix.records[id]
		results = append(results, Result{ID: rec.ID, Text: rec.Text, Score: Cosine(qv, rec.Vector)})
	}
	ix.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// EntityText is the canonical text embedded for a graph entity.
func EntityText(e *models.Entity) string {
	text := e.Name
	if e.EntityType != "" {
		text += " (" + e.EntityType + ")"
	}
	for _, obs := range e.Observations {
		text += ". " + obs
	}
	return text
}

func (ix *Index) embedOrZero(ctx context.Context, text string) []float32 {
	if ix.embed == nil {
		return make([]float32, ix.dim)
	}
	vec, err := ix.embed(ctx, text)
	if err != nil || len(vec) == 0 {
		ix.logger.Warn("embedding unavailable, storing zero vector", "error", err)
		return make([]float32, ix.dim)
	}
	return vec
}

func (ix *Index) put(rec *models.VectorRecord) {
	if _, ok := ix.records[rec.ID]; !ok {
		ix.order = append(ix.order, rec.ID)
	}
	ix.records[rec.ID] = rec
}

// mergeFromDisk folds records written by other processes into the in-memory
// set; our own pending write wins on conflict. Called with both the memory
// mutex and the file lock held.
func (ix *Index) mergeFromDisk() {
	disk, order, err := readRecords(ix.path, ix.logger)
	if err != nil {
		ix.logger.Warn("vector file reload failed", "error", err)
		return
	}
	for _, id := range order {
		if _, ok := ix.records[id]; !ok {
			ix.put(disk[id])
		}
	}
}

func (ix *Index) loadLocked() error {
	records, order, err := readRecords(ix.path, ix.logger)
	if err != nil {
		return err
	}
	ix.records = records
	ix.order = order
	return nil
}

func readRecords(path string, logger *logging.Logger) (map[string]*models.VectorRecord, []string, error) {
	records := make(map[string]*models.VectorRecord)
	var order []string

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return records, nil, nil
		}
		return nil, nil, kgerr.Wrap(kgerr.CodeStorage, err, "open vector file %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.VectorRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			logger.Warn("skipping malformed vector line", "error", err)
			continue
		}
		if _, ok := records[rec.ID]; !ok {
			order = append(order, rec.ID)
		}
		records[rec.ID] = &rec
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, kgerr.Wrap(kgerr.CodeStorage, err, "read vector file %s", path)
	}
	return records, order, nil
}

// persistLocked rewrites the full vector file. Records must be updatable in
// place, so the file is replaced rather than appended.
func (ix *Index) persistLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ix.order {
		if err := enc.Encode(ix.records[id]); err != nil {
			return kgerr.Wrap(kgerr.CodeStorage, err, "encode vector record %s", id)
		}
	}
	return storage.ReplaceFile(ix.path, buf.Bytes())
}

func preview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	return text[:previewLimit]
}
