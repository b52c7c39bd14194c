package pastry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// Addr is a transport address in host:port form.
type Addr string

// NeighborInfo names one overlay node. It is a small value type; copies
// are shared freely between the leaf set, routing table and caches.
type NeighborInfo struct {
	Addr Addr    `json:"addr"`
	ID   guid.ID `json:"guid"`
}

func (n NeighborInfo) String() string {
	return fmt.Sprintf("%s/0x%s", n.Addr, n.ID)
}

// Less orders by address, then id. It has nothing to do with ring order.
func (n NeighborInfo) Less(o NeighborInfo) bool {
	if n.Addr != o.Addr {
		return n.Addr < o.Addr
	}
	return n.ID.Cmp(o.ID) < 0
}

// sortNeighbors sorts ns in place by Less.
func sortNeighbors(ns []NeighborInfo) []NeighborInfo {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Less(ns[j]) })
	return ns
}

func neighborsString(ns []NeighborInfo) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = n.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// neighborSet is an insertion-ordered set of neighbors.
type neighborSet struct {
	order []NeighborInfo
	index map[NeighborInfo]struct{}
}

func newNeighborSet() *neighborSet {
	return &neighborSet{index: make(map[NeighborInfo]struct{})}
}

func (s *neighborSet) add(n NeighborInfo) bool {
	if _, ok := s.index[n]; ok {
		return false
	}
	s.index[n] = struct{}{}
	s.order = append(s.order, n)
	return true
}

func (s *neighborSet) remove(n NeighborInfo) bool {
	if _, ok := s.index[n]; !ok {
		return false
	}
	delete(s.index, n)
	for i, o := range s.order {
		if o == n {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *neighborSet) contains(n NeighborInfo) bool {
	_, ok := s.index[n]
	return ok
}

func (s *neighborSet) len() int { return len(s.order) }

func (s *neighborSet) list() []NeighborInfo {
	return append([]NeighborInfo(nil), s.order...)
}
