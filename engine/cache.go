package engine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blockberries/tallyberry/types"
)

type itemKey struct {
	project types.ProjectID
	key     types.ItemKey
}

// leaderCache holds live leaders for the lock-free read path. A nil entry
// value means the key has no leader.
//
// Writers invalidate after commit. Each invalidation bumps a generation, and
// a reader only fills the cache if no invalidation happened since it started
// its store read, so a slow reader cannot reinstate a superseded leader.
// A nil *leaderCache is a valid, always-missing cache.
type leaderCache struct {
	mu  sync.Mutex
	gen uint64
	lru *lru.Cache[itemKey, *types.CandidateRef]
}

func newLeaderCache(size int) *leaderCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[itemKey, *types.CandidateRef](size)
	if err != nil {
		panic(err)
	}
	return &leaderCache{lru: c}
}

// get returns the cached leader and the generation to pass to fill.
func (c *leaderCache) get(k itemKey) (*types.CandidateRef, bool, uint64) {
	if c == nil {
		return nil, false, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.lru.Get(k)
	return types.CopyRef(ref), ok, c.gen
}

func (c *leaderCache) fill(k itemKey, ref *types.CandidateRef, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.lru.Add(k, types.CopyRef(ref))
}

func (c *leaderCache) invalidate(k itemKey) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Remove(k)
}

func (c *leaderCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
