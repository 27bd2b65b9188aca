package storage

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ukstore/uks/internal/kgerr"
	"github.com/ukstore/uks/internal/logging"
)

const (
	// DefaultLockRetries bounds how many acquisition attempts are made
	// before the operation fails with a lock error.
	DefaultLockRetries = 3

	// DefaultLockStaleTimeout is how old a live holder's marker may get
	// before it is treated as abandoned and reclaimed.
	DefaultLockStaleTimeout = 5 * time.Second

	// DefaultLockRetryDelay is the sleep between attempts when the holder
	// is alive and the marker is fresh.
	DefaultLockRetryDelay = 100 * time.Millisecond
)

// Lock serializes writers to a shared file across independent OS processes
// using only the filesystem: an exclusive-create marker file holding the
// owner's pid acts as an atomic test-and-set. Dead or abandoned holders are
// reclaimed by probing pid liveness and marker age.
type Lock struct {
	path         string
	staleTimeout time.Duration
	retryDelay   time.Duration
	logger       *logging.Logger
}

// NewLock creates a Lock backed by the marker file at path.
func NewLock(path string, staleTimeout, retryDelay time.Duration, logger *logging.Logger) *Lock {
	if staleTimeout <= 0 {
		staleTimeout = DefaultLockStaleTimeout
	}
	if retryDelay <= 0 {
		retryDelay = DefaultLockRetryDelay
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Lock{path: path, staleTimeout: staleTimeout, retryDelay: retryDelay, logger: logger}
}

// Acquire attempts to take the lock, retrying up to maxRetries times.
// Exhausting the retry budget fails with kgerr.CodeLock; the caller holds
// nothing and may retry the whole operation later.
func (l *Lock) Acquire(maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = DefaultLockRetries
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		ok, err := l.tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		pid, readErr := l.holderPID()
		if readErr != nil {
			// Marker vanished between create and read; retry immediately.
			continue
		}
		if !pidAlive(pid) {
			l.logger.Warn("reclaiming lock held by dead process", "pid", pid, "lock", l.path)
			l.remove()
			continue
		}
		st, statErr := os.Stat(l.path)
		if statErr == nil && time.Since(st.ModTime()) > l.staleTimeout {
			l.logger.Warn("reclaiming abandoned lock", "pid", pid, "age", time.Since(st.ModTime()), "lock", l.path)
			l.remove()
			continue
		}
		if statErr != nil && errors.Is(statErr, fs.ErrNotExist) {
			continue
		}

		time.Sleep(l.retryDelay)
	}
	return kgerr.New(kgerr.CodeLock, "lock %s not acquired after %d attempts", l.path, maxRetries)
}

// Release deletes the marker only when it still records our own pid, so a
// slow caller cannot release a lock someone else reclaimed from it.
// A missing marker is not an error.
func (l *Lock) Release() error {
	pid, err := l.holderPID()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	l.remove()
	return nil
}

func (l *Lock) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, kgerr.Wrap(kgerr.CodeStorage, err, "create lock marker %s", l.path)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		l.remove()
		return false, kgerr.Wrap(kgerr.CodeStorage, errors.Join(werr, cerr), "write lock marker %s", l.path)
	}
	return true, nil
}

func (l *Lock) holderPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

func (l *Lock) remove() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("remove lock marker failed", "lock", l.path, "error", err)
	}
}
