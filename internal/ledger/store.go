package ledger

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the ledger lock.
var ErrLocked = errors.New("ledger locked by another run")

// Store couples a ledger file with an advisory lock on "<path>.lock".
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore prepares a store for path without touching the filesystem.
func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the ledger file location.
func (s *Store) Path() string { return s.path }

// Lock acquires the advisory lock without blocking.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, s.lock.Path())
	}
	return nil
}

// Unlock releases the advisory lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// Load reads the ledger file. See the package-level Load.
func (s *Store) Load() (*Ledger, error) {
	return Load(s.path)
}

// Commit persists l to the store's file.
func (s *Store) Commit(l *Ledger) error {
	return l.Commit(s.path)
}
