package indexcache

import (
	"errors"
)

// Sentinel errors
var (
	// ErrCacheDisabled is returned by New when the filesystem event source
	// cannot be started. A cache without invalidation would silently serve
	// stale data, so construction fails instead.
	ErrCacheDisabled = errors.New("filesystem watching unavailable, caching disabled")

	// ErrUnknownAlgorithm is returned when a digest is requested for a hash
	// algorithm that is not registered.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)
