package metadata

import "sync/atomic"

// Catalog holds the currently installed metadata snapshot. Install swaps the
// whole snapshot atomically so concurrent readers see either the old or the
// new snapshot in full, never a partial mix.
type Catalog struct {
	current atomic.Pointer[Snapshot]
}

// NewCatalog returns a catalog with no snapshot installed.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Install replaces the current snapshot.
func (c *Catalog) Install(s *Snapshot) {
	c.current.Store(s)
}

// Current returns the installed snapshot, or nil before the first refresh.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}
