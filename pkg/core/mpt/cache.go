package mpt

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// DefaultCacheSize is the default number of resolved nodes kept in Cache.
const DefaultCacheSize = 1 << 16

// cachedNode is a dirty node with the accumulated change of its reference
// counter since the last commit.
type cachedNode struct {
	node     Node
	refcount int32
}

// Cache keeps nodes resolved from the storage and nodes changed since the
// last commit. The resolved part is a bounded LRU shared between snapshots,
// the dirty part belongs to a single trie.
type Cache struct {
	resolved *lru.Cache
	dirty    map[util.Uint256]*cachedNode
}

// NewCache creates a Cache holding up to size resolved nodes, non-positive
// size means DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	resolved, err := lru.New(size)
	if err != nil {
		panic(err) // size is always positive here
	}
	return &Cache{
		resolved: resolved,
		dirty:    make(map[util.Uint256]*cachedNode),
	}
}

// share returns a Cache with the same resolved part and a copy of the dirty
// part, so pending changes of c are committed by either owner.
func (c *Cache) share() *Cache {
	dirty := make(map[util.Uint256]*cachedNode, len(c.dirty))
	for h, d := range c.dirty {
		cp := *d
		dirty[h] = &cp
	}
	return &Cache{
		resolved: c.resolved,
		dirty:    dirty,
	}
}

// Get returns a node with the specified hash if it's either resolved or
// dirty.
func (c *Cache) Get(h util.Uint256) (Node, bool) {
	if v, ok := c.resolved.Get(h); ok {
		cacheHits.Inc()
		return v.(Node), true
	}
	if d, ok := c.dirty[h]; ok && d.node.Type() != HashT {
		cacheHits.Inc()
		return d.node, true
	}
	cacheMisses.Inc()
	return nil, false
}

// Add puts a resolved node into the cache.
func (c *Cache) Add(n Node) {
	c.resolved.Add(n.Hash(), n)
}

// Remove evicts a node with the specified hash from the resolved part.
func (c *Cache) Remove(h util.Uint256) {
	c.resolved.Remove(h)
}

// Len returns the number of resolved nodes.
func (c *Cache) Len() int {
	return c.resolved.Len()
}

// DirtyLen returns the number of nodes changed since the last commit.
func (c *Cache) DirtyLen() int {
	return len(c.dirty)
}

func (c *Cache) addRef(n Node) {
	c.updateRef(n, 1)
}

func (c *Cache) removeRef(n Node) {
	c.updateRef(n, -1)
}

func (c *Cache) updateRef(n Node, delta int32) {
	h := n.Hash()
	d, ok := c.dirty[h]
	if !ok {
		d = &cachedNode{node: n}
		c.dirty[h] = d
	} else if d.node.Type() == HashT && n.Type() != HashT {
		d.node = n
	}
	d.refcount += delta
}

// resetDirty drops all the accumulated changes.
func (c *Cache) resetDirty() {
	c.dirty = make(map[util.Uint256]*cachedNode)
}
