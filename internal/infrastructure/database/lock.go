package database

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrWriterLocked is returned when another process already holds the writer
// lock for the same database file.
var ErrWriterLocked = errors.New("database is locked by another writer")

// WriterLock guards a database file against a second writing process. The
// server keeps its registry in memory, so a concurrent writer would leave it
// out of date; only one of overlayd or an offline overlayctl publish may run.
type WriterLock struct {
	lock *flock.Flock
}

// LockPath returns the lock file path used for a database file.
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireWriterLock takes the exclusive writer lock for dbPath without
// blocking. It returns ErrWriterLocked when another process holds it.
func AcquireWriterLock(dbPath string) (*WriterLock, error) {
	fl := flock.New(LockPath(dbPath))

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	if !ok {
		return nil, ErrWriterLocked
	}
	return &WriterLock{lock: fl}, nil
}

// Path returns the lock file path.
func (l *WriterLock) Path() string {
	return l.lock.Path()
}

// Release unlocks the writer lock. Safe to call more than once.
func (l *WriterLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release writer lock: %w", err)
	}
	return nil
}
