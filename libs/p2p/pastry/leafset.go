package pastry

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// Bits returned by LeafSet.Remove.
const (
	RemovedNone        = 0x0
	RemovedPredecessor = 0x1
	RemovedSuccessor   = 0x2
	RemovedBoth        = RemovedPredecessor | RemovedSuccessor
)

// LeafSet holds the k nearest predecessors and k nearest successors of the
// local node, nearest first. Membership is decided by guid alone.
//
// A LeafSet is not safe for concurrent use.
type LeafSet struct {
	self  NeighborInfo
	size  int
	preds []NeighborInfo // len == size, first predCount valid
	succs []NeighborInfo
	predCount, succCount int
	overlap              bool
}

// NewLeafSet creates an empty leaf set of k entries per side around self.
func NewLeafSet(self NeighborInfo, k int) *LeafSet {
	if k < 1 {
		panic(fmt.Sprintf("leaf set size %d", k))
	}
	ls := &LeafSet{
		self:  self,
		size:  k,
		preds: make([]NeighborInfo, k),
		succs: make([]NeighborInfo, k),
	}
	ls.updateOverlap()
	return ls
}

// Self returns the local node.
func (ls *LeafSet) Self() NeighborInfo { return ls.self }

// Size returns k, the capacity of each side.
func (ls *LeafSet) Size() int { return ls.size }

// Overlap reports whether the predecessor and successor arcs meet.
func (ls *LeafSet) Overlap() bool { return ls.overlap }

// Len returns the number of entries on both sides, counting duplicates.
func (ls *LeafSet) Len() int { return ls.predCount + ls.succCount }

// Preds returns the predecessors, nearest first.
func (ls *LeafSet) Preds() []NeighborInfo {
	return append([]NeighborInfo(nil), ls.preds[:ls.predCount]...)
}

// Succs returns the successors, nearest first.
func (ls *LeafSet) Succs() []NeighborInfo {
	return append([]NeighborInfo(nil), ls.succs[:ls.succCount]...)
}

// List returns the leaf set in ring order: farthest predecessor first,
// farthest successor last. A node on both sides appears twice.
func (ls *LeafSet) List() []NeighborInfo {
	out := make([]NeighborInfo, 0, ls.predCount+ls.succCount)
	for j := ls.predCount - 1; j >= 0; j-- {
		out = append(out, ls.preds[j])
	}
	return append(out, ls.succs[:ls.succCount]...)
}

// Set returns the distinct members, predecessors first.
func (ls *LeafSet) Set() []NeighborInfo {
	s := newNeighborSet()
	for _, n := range ls.preds[:ls.predCount] {
		s.add(n)
	}
	for _, n := range ls.succs[:ls.succCount] {
		s.add(n)
	}
	return s.order
}

// RandomMember picks a uniformly random slot on either side.
func (ls *LeafSet) RandomMember(r *rand.Rand) (NeighborInfo, bool) {
	total := ls.predCount + ls.succCount
	if total == 0 {
		return NeighborInfo{}, false
	}
	which := r.Intn(total)
	if which < ls.predCount {
		return ls.preds[which], true
	}
	return ls.succs[which-ls.predCount], true
}

// Contains reports whether a node with ni's guid is a member.
func (ls *LeafSet) Contains(ni NeighborInfo) bool {
	if ni.ID == ls.self.ID {
		return false
	}
	return ls.indexOf(ls.preds[:ls.predCount], ni.ID) >= 0 ||
		ls.indexOf(ls.succs[:ls.succCount], ni.ID) >= 0
}

func (ls *LeafSet) indexOf(side []NeighborInfo, id guid.ID) int {
	for i, n := range side {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Promising reports whether Add(ni) would change the leaf set.
func (ls *LeafSet) Promising(ni NeighborInfo) bool {
	if ni.ID == ls.self.ID {
		return false
	}
	if ls.predCount == 0 {
		return true
	}
	if ls.indexOf(ls.preds[:ls.predCount], ni.ID) < 0 {
		for i := 0; i < ls.predCount; i++ {
			if guid.InRange(ls.preds[i].ID, ls.self.ID, ni.ID) {
				return true
			}
		}
		if ls.predCount < ls.size {
			return true
		}
	}
	if ls.indexOf(ls.succs[:ls.succCount], ni.ID) < 0 {
		for i := 0; i < ls.succCount; i++ {
			if guid.InRange(ls.self.ID, ls.succs[i].ID, ni.ID) {
				return true
			}
		}
		if ls.succCount < ls.size {
			return true
		}
	}
	return false
}

// Add inserts ni on whichever sides it improves. ok is false when nothing
// changed. Otherwise evicted is the node that dropped out of the set, or
// Self() when nobody did.
func (ls *LeafSet) Add(ni NeighborInfo) (evicted NeighborInfo, ok bool) {
	if ni.ID == ls.self.ID {
		return NeighborInfo{}, false
	}
	if ls.predCount == 0 {
		ls.preds[0], ls.succs[0] = ni, ni
		ls.predCount, ls.succCount = 1, 1
		ls.overlap = true
		return ls.self, true
	}

	var before []NeighborInfo
	snapshot := func() {
		if before == nil {
			before = ls.Set()
		}
	}
	insert := func(side []NeighborInfo, count *int, closer func(NeighborInfo) bool) {
		if ls.indexOf(side[:*count], ni.ID) >= 0 {
			return
		}
		for i := 0; i < *count; i++ {
			if closer(side[i]) {
				snapshot()
				copy(side[i+1:], side[i:ls.size-1])
				side[i] = ni
				if *count < ls.size {
					*count++
				}
				return
			}
		}
		if *count < ls.size {
			snapshot()
			side[*count] = ni
			*count++
		}
	}
	insert(ls.preds, &ls.predCount, func(p NeighborInfo) bool {
		return guid.InRange(p.ID, ls.self.ID, ni.ID)
	})
	insert(ls.succs, &ls.succCount, func(s NeighborInfo) bool {
		return guid.InRange(ls.self.ID, s.ID, ni.ID)
	})

	if before == nil {
		return NeighborInfo{}, false
	}
	ls.updateOverlap()

	var gone []NeighborInfo
	for _, n := range before {
		if !ls.Contains(n) {
			gone = append(gone, n)
		}
	}
	switch len(gone) {
	case 0:
		return ls.self, true
	case 1:
		return gone[0], true
	default:
		panic(fmt.Sprintf("leaf set: adding %v evicted %d nodes %v\n%v", ni, len(gone), neighborsString(gone), ls))
	}
}

// Remove drops ni from both sides and reports which sides it was on. If the
// arcs overlap afterwards the remaining members are re-added so that each
// side is refilled from the other.
func (ls *LeafSet) Remove(ni NeighborInfo) int {
	result := RemovedNone
	remove := func(side []NeighborInfo, count *int) bool {
		i := ls.indexOf(side[:*count], ni.ID)
		if i < 0 {
			return false
		}
		copy(side[i:], side[i+1:*count])
		*count--
		side[*count] = NeighborInfo{}
		return true
	}
	if remove(ls.preds, &ls.predCount) {
		result |= RemovedPredecessor
	}
	if remove(ls.succs, &ls.succCount) {
		result |= RemovedSuccessor
	}

	ls.updateOverlap()
	if ls.overlap {
		for i := 0; i < ls.predCount; i++ {
			ls.Add(ls.preds[i])
		}
		for i := 0; i < ls.succCount; i++ {
			ls.Add(ls.succs[i])
		}
	}
	return result
}

func (ls *LeafSet) updateOverlap() {
	if ls.predCount == 0 || ls.succCount == 0 {
		ls.overlap = true
		return
	}
	ls.overlap = false
	for _, p := range ls.preds[:ls.predCount] {
		if ls.indexOf(ls.succs[:ls.succCount], p.ID) >= 0 {
			ls.overlap = true
			return
		}
	}
}

// ClosestLeaf returns the member (or self) nearest to id, skipping nodes
// for which ignore returns true. Of two equally close nodes the one that
// follows id clockwise wins.
func (ls *LeafSet) ClosestLeaf(id guid.ID, ignore func(NeighborInfo) bool) NeighborInfo {
	closest := ls.self
	dist := guid.Dist(ls.self.ID, id)
	scan := func(side []NeighborInfo) {
		for _, ni := range side {
			if ignore != nil && ignore(ni) {
				continue
			}
			d := guid.Dist(ni.ID, id)
			switch c := d.Cmp(dist); {
			case c < 0:
				closest, dist = ni, d
			case c == 0 && ni != closest &&
				guid.InRange(closest.ID, ni.ID, id) && !guid.InRange(ni.ID, closest.ID, id):
				closest, dist = ni, d
			}
		}
	}
	scan(ls.preds[:ls.predCount])
	scan(ls.succs[:ls.succCount])
	return closest
}

// Low returns the farthest predecessor's guid, or self's.
func (ls *LeafSet) Low() guid.ID {
	if ls.predCount == 0 {
		return ls.self.ID
	}
	return ls.preds[ls.predCount-1].ID
}

// High returns the farthest successor's guid, or self's.
func (ls *LeafSet) High() guid.ID {
	if ls.succCount == 0 {
		return ls.self.ID
	}
	return ls.succs[ls.succCount-1].ID
}

// Within reports whether id falls between the farthest predecessor and the
// farthest successor.
func (ls *LeafSet) Within(id guid.ID) bool {
	return guid.InRange(ls.Low(), ls.self.ID, id) || guid.InRange(ls.self.ID, ls.High(), id)
}

// Replicas returns up to n nodes (n even) straddling key. The result is
// empty when the leaf set does not overlap and the closest member is the
// last one known on its side, because the true replica set may include
// nodes beyond it.
func (ls *LeafSet) Replicas(key guid.ID, n int) []NeighborInfo {
	if total := ls.predCount + ls.succCount; n > total {
		n = total
	}
	if n%2 != 0 {
		panic(fmt.Sprintf("leaf set: odd replica count %d", n))
	}
	result := newNeighborSet()
	if ls.predCount == 0 {
		result.add(ls.self)
		return result.list()
	}

	// 0 is self, -(i+1) is preds[i], i+1 is succs[i].
	closest := 0
	min := guid.Dist(ls.self.ID, key)
	for i := 0; i < ls.predCount; i++ {
		if d := guid.Dist(ls.preds[i].ID, key); d.Cmp(min) < 0 {
			closest, min = -(i + 1), d
		}
	}
	for i := 0; i < ls.succCount; i++ {
		if d := guid.Dist(ls.succs[i].ID, key); d.Cmp(min) < 0 {
			closest, min = i+1, d
		}
	}
	if !ls.overlap && (-closest == ls.predCount || closest == ls.succCount) {
		return result.list()
	}

	half := n / 2
	var start int
	switch {
	case closest == 0:
		if guid.InRange(ls.preds[0].ID, ls.self.ID, key) {
			start = closest - half
		} else {
			start = closest - half + 1
		}
	case closest < 0:
		if guid.InRange(ls.preds[-closest-1].ID, ls.self.ID, key) {
			start = closest - half + 1
		} else {
			start = closest - half
		}
	default:
		if guid.InRange(ls.self.ID, ls.succs[closest-1].ID, key) {
			start = closest - half
		} else {
			start = closest - half + 1
		}
	}
	for i := start; i < start+n; i++ {
		switch {
		case i == 0:
			result.add(ls.self)
		case i < 0:
			if j := -i - 1; j < ls.predCount {
				result.add(ls.preds[j])
			}
		default:
			if j := i - 1; j < ls.succCount {
				result.add(ls.succs[j])
			}
		}
	}
	return result.list()
}

func (ls *LeafSet) String() string {
	var buf bytes.Buffer
	for i := ls.predCount - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "  %d\t%v\n", -i-1, ls.preds[i])
	}
	fmt.Fprintf(&buf, "  0\t%v\n", ls.self)
	for i := 0; i < ls.succCount; i++ {
		fmt.Fprintf(&buf, "  %d\t%v\n", i+1, ls.succs[i])
	}
	return buf.String()
}
