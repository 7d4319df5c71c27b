package indexcache

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ListFunc produces the full listing for a root directory. It must be a
// pure read of the filesystem.
type ListFunc func(root string) ([]PkgEntry, error)

// DigestFunc produces the content digest of a file under the named
// algorithm. It must be pure given stable file content.
type DigestFunc func(path, algo string) (string, error)

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Cache memoizes directory listings and file digests, invalidating both
// from filesystem change notifications.
//
// The listing cache is deliberately coarse: any file change under a root
// drops that root's entire listing. The digest cache is per-file, because
// hashing large files is the expensive operation worth preserving.
type Cache struct {
	fs     afero.Fs
	log    *logrus.Logger
	now    NowFunc
	source EventSource

	listMu   sync.Mutex
	listings map[string][]PkgEntry

	digestMu sync.Mutex
	digests  map[string]map[string]string // algo -> path -> digest

	// Roots with an active subscription. A root is subscribed at most
	// once and the subscription lives until Close.
	watchMu sync.Mutex
	watched map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a live cache. It fails with ErrCacheDisabled when the
// filesystem event source cannot be started: without invalidation the
// cache would serve stale data forever, which is worse than no cache.
func New(options ...Option) (*Cache, error) {
	c := &Cache{
		fs:       afero.NewOsFs(),
		log:      logrus.New(),
		now:      time.Now,
		listings: make(map[string][]PkgEntry),
		digests:  make(map[string]map[string]string),
		watched:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	// Apply options
	for _, option := range options {
		option(c)
	}

	if c.source == nil {
		source, err := newFSEventSource()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheDisabled, err)
		}
		c.source = source
	}

	go c.run()
	return c, nil
}

// ListDir returns the cached listing for root, invoking fn on a miss and
// storing its result. The first miss for a root also subscribes the root
// for change notifications. A producer error is returned uncached.
//
// The listing lock is held across the producer call, so an invalidation
// arriving during the call is applied after the fresh result is stored
// rather than being overwritten by it.
func (c *Cache) ListDir(root string, fn ListFunc) ([]PkgEntry, error) {
	root = filepath.Clean(root)

	c.listMu.Lock()
	defer c.listMu.Unlock()

	if entries, ok := c.listings[root]; ok {
		return entries, nil
	}

	if err := c.watchRoot(root); err != nil {
		return nil, err
	}

	entries, err := fn(root)
	if err != nil {
		return nil, err
	}
	c.listings[root] = entries
	return entries, nil
}

// DigestFile returns the cached digest for (algo, path), invoking fn on a
// miss and storing its result. The file's parent directory is subscribed
// for change notifications. A producer error is returned uncached.
func (c *Cache) DigestFile(path, algo string, fn DigestFunc) (string, error) {
	c.digestMu.Lock()
	defer c.digestMu.Unlock()

	byPath, ok := c.digests[algo]
	if !ok {
		byPath = make(map[string]string)
		c.digests[algo] = byPath
	}
	if digest, ok := byPath[path]; ok {
		return digest, nil
	}

	if err := c.watchRoot(filepath.Dir(path)); err != nil {
		return "", err
	}

	digest, err := fn(path, algo)
	if err != nil {
		return "", err
	}
	byPath[path] = digest
	return digest, nil
}

// InvalidateRoot drops the cached listing for root. It is idempotent and a
// no-op for roots that were never cached.
func (c *Cache) InvalidateRoot(root string) {
	c.listMu.Lock()
	delete(c.listings, filepath.Clean(root))
	c.listMu.Unlock()
}

// Close stops the event bridge and the underlying event source. The cache
// must not be used after Close.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.source.Close()
	})
	return err
}

// watchRoot subscribes root if it is not already watched. The registry
// lock guards the membership check and the subscription together so a
// root is never subscribed twice.
func (c *Cache) watchRoot(root string) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if _, ok := c.watched[root]; ok {
		return nil
	}
	if err := c.source.Watch(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	c.watched[root] = struct{}{}
	return nil
}

// run is the event bridge: it consumes the event source until Close.
func (c *Cache) run() {
	for {
		select {
		case ev, ok := <-c.source.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-c.source.Errors():
			if !ok {
				return
			}
			c.log.WithError(err).Warn("event source error")
		case <-c.done:
			return
		}
	}
}

// handleEvent applies one change notification to the caches.
//
// Directory events carry no file content change and are ignored; the file
// events inside the same subtree already trigger the listing drop. For
// file events, every watched root containing the path loses its listing,
// and the digest cache is pruned for exactly the affected paths (both
// ends of a move) under every algorithm.
func (c *Cache) handleEvent(ev Event) {
	if ev.IsDir {
		return
	}

	paths := []string{ev.Path}
	if ev.DestPath != "" {
		paths = append(paths, ev.DestPath)
	}

	for _, root := range c.rootsContaining(paths) {
		c.InvalidateRoot(root)
	}
	c.invalidateFiles(paths)
}

// invalidateFiles removes the digest entries for the given paths under
// every algorithm currently tracked. Algorithm maps are never removed
// once created.
func (c *Cache) invalidateFiles(paths []string) {
	c.digestMu.Lock()
	defer c.digestMu.Unlock()

	for _, byPath := range c.digests {
		for _, path := range paths {
			delete(byPath, path)
		}
	}
}

// rootsContaining returns the watched roots that contain any of the given
// paths. Watched roots may nest, in which case an event under the inner
// root invalidates both.
func (c *Cache) rootsContaining(paths []string) []string {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	var roots []string
	for root := range c.watched {
		for _, path := range paths {
			if underRoot(path, root) {
				roots = append(roots, root)
				break
			}
		}
	}
	return roots
}

// underRoot reports whether path is root itself or lies beneath it.
func underRoot(path, root string) bool {
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
