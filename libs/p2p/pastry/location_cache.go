package pastry

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// LocationCache remembers recently seen nodes by guid, evicting the least
// recently added one when full. Its answers are hints: nothing in it has been
// checked for liveness. A cache of capacity zero stores nothing.
type LocationCache struct {
	cache *lru.Cache
	keys  []guid.ID // sorted
}

// NewLocationCache returns a cache holding up to capacity nodes.
func NewLocationCache(capacity int) *LocationCache {
	lc := new(LocationCache)
	if capacity <= 0 {
		return lc
	}
	c, err := lru.NewWithEvict(capacity, lc.onEvict)
	if err != nil {
		panic(err)
	}
	lc.cache = c
	return lc
}

func (lc *LocationCache) search(id guid.ID) int {
	return sort.Search(len(lc.keys), func(i int) bool { return lc.keys[i].Cmp(id) >= 0 })
}

func (lc *LocationCache) onEvict(key, _ interface{}) {
	id := key.(guid.ID)
	i := lc.search(id)
	if i < len(lc.keys) && lc.keys[i] == id {
		lc.keys = append(lc.keys[:i], lc.keys[i+1:]...)
	}
}

// Len is the number of cached nodes.
func (lc *LocationCache) Len() int {
	if lc.cache == nil {
		return 0
	}
	return lc.cache.Len()
}

// Add records ni as most recently seen.
func (lc *LocationCache) Add(ni NeighborInfo) {
	if lc.cache == nil {
		return
	}
	if !lc.cache.Contains(ni.ID) {
		i := lc.search(ni.ID)
		lc.keys = append(lc.keys, guid.ID{})
		copy(lc.keys[i+1:], lc.keys[i:])
		lc.keys[i] = ni.ID
	}
	// The evicted entry, if any, leaves keys through onEvict.
	lc.cache.Add(ni.ID, ni)
}

// Remove forgets the node cached under ni's guid.
func (lc *LocationCache) Remove(ni NeighborInfo) {
	if lc.cache == nil || !lc.cache.Contains(ni.ID) {
		return
	}
	lc.cache.Remove(ni.ID)
}

// ClosestNode returns the cached node nearest to id on the ring.
func (lc *LocationCache) ClosestNode(id guid.ID) (NeighborInfo, bool) {
	if lc.cache == nil || len(lc.keys) == 0 {
		return NeighborInfo{}, false
	}
	i := lc.search(id)
	if i < len(lc.keys) && lc.keys[i] == id {
		return lc.peek(id), true
	}
	low, high := len(lc.keys)-1, 0
	if i > 0 {
		low = i - 1
	}
	if i < len(lc.keys) {
		high = i
	}
	lowID, highID := lc.keys[low], lc.keys[high]
	if guid.Dist(highID, id).Cmp(guid.Dist(lowID, id)) < 0 {
		return lc.peek(highID), true
	}
	return lc.peek(lowID), true
}

func (lc *LocationCache) peek(id guid.ID) NeighborInfo {
	v, _ := lc.cache.Peek(id)
	return v.(NeighborInfo)
}

// List returns the cached nodes in ring order.
func (lc *LocationCache) List() []NeighborInfo {
	out := make([]NeighborInfo, 0, len(lc.keys))
	for _, id := range lc.keys {
		out = append(out, lc.peek(id))
	}
	return out
}
