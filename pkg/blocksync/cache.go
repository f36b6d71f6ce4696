package blocksync

import (
	"sync"

	"github.com/daybook-app/daybook/pkg/models"
)

// IdentityCache remembers, for the lifetime of one open-document editing
// session, which stored block corresponds to which top-level position. With
// the cache warm, repeated edits at a position become updates against one
// stable block ID instead of create/delete churn.
//
// The cache is purely in-memory. Losing it is safe: the differencer falls
// back to positional and content matching, at the cost of extra writes.
// Position indices are only meaningful within one open session for one
// document, so entries are cleared on document switch.
type IdentityCache struct {
	mu sync.Mutex
	m  map[models.PageID]map[int]models.BlockID
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{m: make(map[models.PageID]map[int]models.BlockID)}
}

// Get returns the cached block ID for (page, position), if any.
func (c *IdentityCache) Get(pageID models.PageID, position int) (models.BlockID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[pageID][position]
	return id, ok
}

// Set records the block ID occupying (page, position).
func (c *IdentityCache) Set(pageID models.PageID, position int, id models.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.m[pageID]
	if !ok {
		page = make(map[int]models.BlockID)
		c.m[pageID] = page
	}
	page[position] = id
}

// Clear drops every entry for one page. Called when the editor navigates
// away from that document.
func (c *IdentityCache) Clear(pageID models.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, pageID)
}

// ClearAll drops everything. Called on full workspace reset.
func (c *IdentityCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[models.PageID]map[int]models.BlockID)
}

// Len reports the number of cached positions for a page.
func (c *IdentityCache) Len(pageID models.PageID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m[pageID])
}
