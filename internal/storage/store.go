// Package storage implements the persistent knowledge-graph store: one
// line-delimited JSON file per context, cross-process locking, pre-write
// snapshots with single-step undo, and keyword search.
package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/logging"
)

// Options contains configuration for a Store.
type Options struct {
	// BackupRetain is how many snapshots to keep per context.
	BackupRetain int

	// CompressBackups enables zstd compression of snapshots.
	CompressBackups bool

	// LockMaxRetries bounds lock acquisition attempts per transaction.
	LockMaxRetries int

	// LockStaleTimeout is the marker age after which a live holder is
	// treated as abandoned.
	LockStaleTimeout time.Duration

	// LockRetryDelay is the sleep between acquisition attempts.
	LockRetryDelay time.Duration

	// Logger receives lock reclaim and backup prune diagnostics.
	Logger *logging.Logger
}

// DefaultOptions contains the default configuration for a Store.
var DefaultOptions = Options{
	BackupRetain:     DefaultBackupRetain,
	LockMaxRetries:   DefaultLockRetries,
	LockStaleTimeout: DefaultLockStaleTimeout,
	LockRetryDelay:   DefaultLockRetryDelay,
}

// Store owns one storage directory of context graph files. All writers in a
// process share one Store; concurrent processes coordinate through the lock
// marker in the same directory. Construct with a distinct directory for
// isolated tests.
type Store struct {
	dir     string
	opts    Options
	lock    *Lock
	backups *BackupManager
	logger  *logging.Logger
}

// New creates a Store rooted at dir, creating the directory and its backup
// subdirectory as needed.
func New(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kgerr.Wrap(kgerr.CodeStorage, err, "create data dir %s", dir)
	}

	backups, err := NewBackupManager(dir, opts.BackupRetain, opts.CompressBackups, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:     dir,
		opts:    opts,
		lock:    NewLock(filepath.Join(dir, ".lock"), opts.LockStaleTimeout, opts.LockRetryDelay, opts.Logger),
		backups: backups,
		logger:  opts.Logger,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Backups exposes the backup manager, mainly for audit tooling.
func (s *Store) Backups() *BackupManager { return s.backups }

// ReplaceFile atomically replaces path's contents by writing a temp file in
// the same directory and renaming it into place. Readers never observe a
// torn write.
func ReplaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return kgerr.Wrap(kgerr.CodeStorage, err, "create temp file %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return kgerr.Wrap(kgerr.CodeStorage, err, "write temp file %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return kgerr.Wrap(kgerr.CodeStorage, err, "sync temp file %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return kgerr.Wrap(kgerr.CodeStorage, err, "close temp file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kgerr.Wrap(kgerr.CodeStorage, err, "rename %s into place", tmp)
	}
	return nil
}
