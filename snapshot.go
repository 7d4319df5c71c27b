package indexcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// snapshotVersion tags the on-disk index format. Readers reject snapshots
// written with a different version and fall back to live serving.
const snapshotVersion = 1

// snapshot is the on-disk form of the listing cache.
type snapshot struct {
	Version   int                   `json:"version"`
	CreatedAt time.Time             `json:"createdAt"`
	Listings  map[string][]PkgEntry `json:"listings"`
}

// SnapshotCache extends Cache with a persisted listing index.
//
// When a snapshot file loads at construction, the cache is frozen: ListDir
// serves only from the loaded index, with no producer calls, no watching,
// and an empty result for unknown roots. Staleness after snapshot creation
// is the accepted tradeoff. Without a loadable snapshot it behaves exactly
// like a live Cache.
type SnapshotCache struct {
	*Cache
	frozen bool
}

// NewSnapshotCache creates a cache that attempts to load the snapshot at
// indexPath. Loading is best-effort: a missing, unreadable, or malformed
// file is logged and the cache starts live and empty. An empty indexPath
// skips loading entirely. The event source must still start; construction
// fails with ErrCacheDisabled otherwise.
func NewSnapshotCache(indexPath string, options ...Option) (*SnapshotCache, error) {
	cache, err := New(options...)
	if err != nil {
		return nil, err
	}

	s := &SnapshotCache{Cache: cache}
	if indexPath == "" {
		return s, nil
	}

	if err := s.load(indexPath); err != nil {
		cache.log.WithError(err).Warnf("package index %s not loaded, serving live", indexPath)
		return s, nil
	}
	s.frozen = true
	return s, nil
}

// Frozen reports whether listings are served from a loaded snapshot.
func (s *SnapshotCache) Frozen() bool {
	return s.frozen
}

// load replaces the listing cache with the decoded snapshot.
func (s *SnapshotCache) load(indexPath string) error {
	data, err := afero.ReadFile(s.fs, indexPath)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	if snap.Listings == nil {
		snap.Listings = make(map[string][]PkgEntry)
	}

	s.listMu.Lock()
	s.listings = snap.Listings
	s.listMu.Unlock()
	return nil
}

// ListDir serves from the loaded snapshot when frozen: a pure map lookup,
// never a producer call, never a watch. Unknown roots yield an empty
// listing rather than falling back to live computation. Without a loaded
// snapshot it defers to the live cache.
func (s *SnapshotCache) ListDir(root string, fn ListFunc) ([]PkgEntry, error) {
	if !s.frozen {
		return s.Cache.ListDir(root, fn)
	}

	root = filepath.Clean(root)
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.listings[root], nil
}

// ForceUpdate unconditionally recomputes the listing for root and stores
// it, returning the new value. It is meant for the offline index-building
// workflow, not for request serving.
func (s *SnapshotCache) ForceUpdate(root string, fn ListFunc) ([]PkgEntry, error) {
	root = filepath.Clean(root)

	s.listMu.Lock()
	defer s.listMu.Unlock()

	entries, err := fn(root)
	if err != nil {
		return nil, err
	}
	s.listings[root] = entries
	return entries, nil
}

// Serialize writes the entire current listing cache to path for a later
// process to load. The write goes to a temporary file first and is moved
// into place, so readers never observe a partial index. Errors propagate:
// a failed serialization means the next startup repeats the full scan.
func (s *SnapshotCache) Serialize(path string) error {
	s.listMu.Lock()
	snap := snapshot{
		Version:   snapshotVersion,
		CreatedAt: s.now(),
		Listings:  s.listings,
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	s.listMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
