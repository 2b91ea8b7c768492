package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"replybot/internal/utils"
)

// SeenSet holds every content id discovery has already looked at.
type SeenSet map[string]struct{}

func NewSeenSet(ids ...string) SeenSet {
	s := make(SeenSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s SeenSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s SeenSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s SeenSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadSeen reads the persisted set. A missing file is an empty set.
func LoadSeen(path string) (SeenSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SeenSet{}, nil
		}
		return nil, fmt.Errorf("%w: read seen %s: %v", ErrStoreIO, path, err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode seen %s: %v", ErrStoreIO, path, err)
	}
	return NewSeenSet(ids...), nil
}

// SaveSeen replaces the persisted set wholesale.
func SaveSeen(path string, set SeenSet) error {
	data, err := json.MarshalIndent(set.Sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode seen: %v", ErrStoreIO, err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write seen %s: %v", ErrStoreIO, path, err)
	}
	utils.Debug("seen saved", "path", path, "count", len(set))
	return nil
}

// ErrSeenLocked is returned when another discovery run holds the seen lock.
var ErrSeenLocked = errors.New("seen state is locked by another run")

// LockSeen takes an exclusive non-blocking lock on <path>.lock.
// The returned func releases it.
func LockSeen(path string) (func(), error) {
	lockPath := path + ".lock"
	if err := utils.EnsureDir(filepath.Dir(lockPath)); err != nil {
		return nil, fmt.Errorf("%w: lock dir: %v", ErrStoreIO, err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrStoreIO, lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrSeenLocked, lockPath)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			utils.Warn("seen unlock failed", "path", lockPath, "error", err)
		}
	}, nil
}
