package indexcache

// Stats is a point-in-time summary of cache occupancy.
type Stats struct {
	Roots   int // roots with a cached listing
	Entries int // package entries across all cached listings
	Digests int // cached digests across all algorithms
	Watched int // roots with an active watch subscription
}

// Listings returns a copy of the cached root to entries mapping. The
// entry slices are shared and must be treated as immutable.
func (c *Cache) Listings() map[string][]PkgEntry {
	c.listMu.Lock()
	defer c.listMu.Unlock()

	out := make(map[string][]PkgEntry, len(c.listings))
	for root, entries := range c.listings {
		out[root] = entries
	}
	return out
}

// Stats returns the current cache occupancy.
func (c *Cache) Stats() Stats {
	var stats Stats

	c.listMu.Lock()
	stats.Roots = len(c.listings)
	for _, entries := range c.listings {
		stats.Entries += len(entries)
	}
	c.listMu.Unlock()

	c.digestMu.Lock()
	for _, byPath := range c.digests {
		stats.Digests += len(byPath)
	}
	c.digestMu.Unlock()

	c.watchMu.Lock()
	stats.Watched = len(c.watched)
	c.watchMu.Unlock()

	return stats
}
