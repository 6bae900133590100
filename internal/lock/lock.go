// Package lock provides the single-instance guard described in §4.1.1,
// adapted directly from the teacher's cmd/lock.go (gofrs/flock wrapping a
// pidfile-style lock in the app's internal directory).
package lock

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "aiocore.lock"

// InstanceLock wraps the file-locking mechanism used to decide whether
// this process is the daemon (holds the lock) or a client talking to an
// already-running daemon over the HTTP control surface.
type InstanceLock struct {
	flock *flock.Flock
	path  string
}

// Acquire attempts to take the single-instance lock rooted at dir.
// Returns true if acquired (this process is the master); false if another
// instance already holds it.
func Acquire(dir string) (*InstanceLock, bool, error) {
	path := filepath.Join(dir, lockFileName)
	fileLock := flock.New(path)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}

	return &InstanceLock{flock: fileLock, path: path}, true, nil
}

// Release releases the lock, if held.
func (l *InstanceLock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	return l.flock.Unlock()
}
