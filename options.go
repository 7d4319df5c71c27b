package indexcache

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Option defines a function that configures a Cache.
type Option func(*Cache)

// WithFs sets a custom filesystem for the cache. The filesystem is used
// for snapshot I/O; producers receive paths and do their own reads.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := indexcache.New(indexcache.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithLogger sets the logger used for event-source errors and snapshot
// load diagnostics. The default logs to stderr.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithEventSource sets a custom filesystem event source. The default is
// backed by fsnotify. The cache owns the source and closes it on Close.
func WithEventSource(source EventSource) Option {
	return func(c *Cache) {
		c.source = source
	}
}

// WithNowFunc sets a custom time function for the cache.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(now NowFunc) Option {
	return func(c *Cache) {
		c.now = now
	}
}
