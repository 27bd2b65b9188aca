package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/logging"
)

// DefaultBackupRetain is how many snapshots are kept per context.
const DefaultBackupRetain = 5

// backupTimeLayout is ISO-8601 with colons replaced by dashes so snapshot
// names sort lexicographically by timestamp.
const backupTimeLayout = "2006-01-02T15-04-05.000Z"

const zstExt = ".zst"

// BackupManager snapshots a context's graph file before every write and
// restores the most recent snapshot on undo. Snapshots are byte-for-byte
// copies (optionally zstd-compressed) retained up to a fixed count per
// context, oldest pruned first.
type BackupManager struct {
	dataDir  string
	dir      string
	retain   int
	compress bool
	logger   *logging.Logger

	now func() time.Time
}

// NewBackupManager creates a manager storing snapshots under
// dataDir/.backups.
func NewBackupManager(dataDir string, retain int, compress bool, logger *logging.Logger) (*BackupManager, error) {
	if retain < 1 {
		retain = DefaultBackupRetain
	}
	if logger == nil {
		logger = logging.Noop()
	}
	dir := filepath.Join(dataDir, ".backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "create backup dir %s", dir)
	}
	return &BackupManager{
		dataDir:  dataDir,
		dir:      dir,
		retain:   retain,
		compress: compress,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CreateSnapshot copies the context's live graph file into the backup
// directory and prunes old snapshots. It must be called with the write lock
// held, strictly before the new content is written. Returns "" with a nil
// error when there is nothing to snapshot yet (first-ever write).
func (b *BackupManager) CreateSnapshot(context string) (string, error) {
	src := filepath.Join(b.dataDir, graphFileName(context))
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", kgerr.Wrap(kgerr.CodeStorage, err, "read graph file for snapshot")
	}

	name := "graph-" + context + "-" + b.now().UTC().Format(backupTimeLayout) + ".jsonl"
	if b.compress {
		name += zstExt
	}
	dest := filepath.Join(b.dir, name)
	if err := b.writeSnapshot(dest, data); err != nil {
		return "", err
	}

	b.prune(context)
	return dest, nil
}

// RestoreLatest copies the most recent snapshot over the live graph file,
// reproducing its exact bytes. Fails with kgerr.CodeNotFound when the
// context has no snapshot to restore.
func (b *BackupManager) RestoreLatest(context string) error {
	names, err := b.list(context)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return kgerr.New(kgerr.CodeNotFound, "no backup exists for context %q", context)
	}

	data, err := b.readSnapshot(filepath.Join(b.dir, names[0]))
	if err != nil {
		return err
	}

	dest := filepath.Join(b.dataDir, graphFileName(context))
	return ReplaceFile(dest, data)
}

// list returns the context's snapshot file names, newest first. Snapshot
// timestamps are fixed-width, so a name sort is a timestamp sort.
func (b *BackupManager) list(context string) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "list backup dir %s", b.dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isSnapshotOf(entry.Name(), context) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// prune keeps the retain newest snapshots for the context. Losing an old
// backup must never abort a live write, so failures are only logged.
func (b *BackupManager) prune(context string) {
	names, err := b.list(context)
	if err != nil {
		b.logger.Warn("backup prune: list failed", "context", context, "error", err)
		return
	}
	for _, name := range names[min(b.retain, len(names)):] {
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			b.logger.Warn("backup prune: remove failed", "backup", name, "error", err)
		}
	}
}

func (b *BackupManager) writeSnapshot(dest string, data []byte) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return kgerr.Wrap(kgerr.CodeStorage, err, "create snapshot %s", dest)
	}
	var w io.WriteCloser = f
	var enc *zstd.Encoder
	if b.compress {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return kgerr.Wrap(kgerr.CodeStorage, err, "create snapshot encoder")
		}
		w = enc
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		if enc != nil {
			f.Close()
		}
		os.Remove(dest)
		return kgerr.Wrap(kgerr.CodeStorage, err, "write snapshot %s", dest)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			f.Close()
			os.Remove(dest)
			return kgerr.Wrap(kgerr.CodeStorage, err, "finish snapshot %s", dest)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return kgerr.Wrap(kgerr.CodeStorage, err, "close snapshot %s", dest)
	}
	return nil
}

func (b *BackupManager) readSnapshot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "read snapshot %s", path)
	}
	if strings.HasSuffix(path, zstExt) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, kgerr.Wrap(kgerr.CodeStorage, err, "create snapshot decoder")
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, kgerr.Wrap(kgerr.CodeStorage, err, "decompress snapshot %s", path)
		}
	}
	return data, nil
}

// isSnapshotOf matches graph-<context>-<timestamp>.jsonl[.zst]. The
// timestamp tail is validated so context "a" does not claim snapshots of
// context "a-b".
func isSnapshotOf(name, context string) bool {
	prefix := "graph-" + context + "-"
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := strings.TrimPrefix(name, prefix)
	rest = strings.TrimSuffix(rest, zstExt)
	rest = strings.TrimSuffix(rest, ".jsonl")
	_, err := time.Parse(backupTimeLayout, rest)
	return err == nil
}
