/*
	Package indexcache provides a watched, persistable cache for package-index
	listings and per-file content digests.

It sits in front of two expensive filesystem operations (scanning a package
root for distribution files, and hashing individual files) and keeps both
results coherent with the filesystem through change notifications.

# Overview

A Cache memoizes the results of caller-supplied producer functions:

  - a listing producer turns a root directory into a []PkgEntry
  - a digest producer turns a (path, algorithm) pair into a hex digest

The first time a root (or a file's parent directory) is touched, the cache
lazily subscribes to filesystem notifications for that subtree. Incoming
events invalidate coarsely at the listing level (any file change under a
root drops that root's whole listing) and precisely at the digest level
(only the affected paths are pruned, for every algorithm). Listings are
cheap to recompute; hashing large files is not.

# Basic Usage

Creating a cache and serving listings:

	cache, err := indexcache.New()
	if err != nil {
	    log.Fatalf("caching unavailable: %v", err)
	}
	defer cache.Close()

	entries, err := cache.ListDir("/srv/packages", func(root string) ([]indexcache.PkgEntry, error) {
	    return indexcache.ListPackages(afero.NewOsFs(), root)
	})

Serving digests:

	sum, err := cache.DigestFile(path, "sha256", func(path, algo string) (string, error) {
	    return indexcache.FileDigest(afero.NewOsFs(), path, algo)
	})

# Snapshots

A SnapshotCache additionally loads a serialized listing index at startup.
When the load succeeds the cache is frozen: ListDir answers purely from the
snapshot, never invoking a producer and never watching the filesystem.
Unknown roots yield an empty listing: frozen means frozen, there is no
live fallback. When no snapshot is present (or it fails to decode) the
cache silently behaves like a live Cache.

Snapshots are produced offline:

	snap, _ := indexcache.NewSnapshotCache("")
	snap.ForceUpdate("/srv/packages", lister)
	err := snap.Serialize("pkg-index.json")

The cmd/pkgindex tool wraps this workflow.

# Concurrency

All methods are safe for concurrent use. Listing and digest lookups hold
their cache lock across the producer call on a miss, so an invalidation
racing with an in-flight lookup is linearized rather than lost. Producer
failures are returned to the caller and never stored.

# Error Handling

  - ErrCacheDisabled: the filesystem event source could not be started;
    the cache must not be used (it would serve stale data forever)
  - ErrUnknownAlgorithm: FileDigest was asked for an unregistered hash
  - snapshot load failures are logged and recovered; snapshot write
    failures propagate to the caller
*/
package indexcache
