//go:build unix

package storage

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive probes liveness with a zero-effect signal. EPERM means the
// process exists but belongs to another user, which still counts as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
