package pastry

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// RoutingEntry is one occupied cell of the routing table.
type RoutingEntry struct {
	Node NeighborInfo  `json:"node"`
	RTT  time.Duration `json:"rtt"`
}

// RoutingTable is the prefix table of the local node. Cell [level][value]
// holds a node that shares exactly level leading digits with self and has
// value as its next digit. Self sits in its own cell on every level and is
// never counted in Size.
//
// A RoutingTable is not safe for concurrent use.
type RoutingTable struct {
	self    NeighborInfo
	digits  guid.Digits
	scale   float64
	mine    []int
	table   [][]*RoutingEntry
	size    int
	highest int
}

// NewRoutingTable creates a table for self. A replacement under proximity
// selection needs an RTT below scale times the current one.
func NewRoutingTable(self NeighborInfo, digits guid.Digits, scale float64) *RoutingTable {
	rt := &RoutingTable{
		self:    self,
		digits:  digits,
		scale:   scale,
		mine:    digits.Split(self.ID),
		table:   make([][]*RoutingEntry, digits.Count()),
		highest: -1,
	}
	for level := range rt.table {
		rt.table[level] = make([]*RoutingEntry, digits.Values())
		rt.table[level][rt.mine[level]] = &RoutingEntry{Node: self}
	}
	return rt
}

// Size is the number of non-self entries.
func (rt *RoutingTable) Size() int { return rt.size }

// Highest is the deepest level holding a non-self entry, or -1.
func (rt *RoutingTable) Highest() int { return rt.highest }

// Digits returns the digit layout of the table.
func (rt *RoutingTable) Digits() guid.Digits { return rt.digits }

// MatchingDigits is the length of the common prefix of id and self.
func (rt *RoutingTable) MatchingDigits(id guid.ID) int {
	return rt.digits.FirstDiff(id, rt.self.ID)
}

func (rt *RoutingTable) cell(id guid.ID) (level, value int, ok bool) {
	level = rt.digits.FirstDiff(id, rt.self.ID)
	if level == rt.digits.Count() {
		return level, 0, false
	}
	return level, rt.digits.At(id, level), true
}

// Add offers ni with measured rtt. ok is false when the table is
// unchanged. When a hole was filled evicted is self; when pns is set and ni
// beats the occupant by the scale margin the occupant is replaced and
// returned.
func (rt *RoutingTable) Add(ni NeighborInfo, rtt time.Duration, pns bool) (evicted NeighborInfo, ok bool) {
	level, value, valid := rt.cell(ni.ID)
	if !valid {
		return NeighborInfo{}, false
	}
	defer func() {
		if level > rt.highest {
			rt.highest = level
		}
	}()

	cur := rt.table[level][value]
	switch {
	case cur == nil:
		rt.table[level][value] = &RoutingEntry{Node: ni, RTT: rtt}
		rt.size++
		return rt.self, true
	case cur.Node == ni:
		cur.RTT = rtt
		return NeighborInfo{}, false
	case pns && float64(rtt) < rt.scale*float64(cur.RTT):
		old := cur.Node
		rt.table[level][value] = &RoutingEntry{Node: ni, RTT: rtt}
		return old, true
	}
	return NeighborInfo{}, false
}

// ForceAdd puts ni in its cell regardless of the occupant.
func (rt *RoutingTable) ForceAdd(ni NeighborInfo, rtt time.Duration) {
	level, value, valid := rt.cell(ni.ID)
	if !valid {
		return
	}
	if rt.table[level][value] == nil {
		rt.size++
	}
	rt.table[level][value] = &RoutingEntry{Node: ni, RTT: rtt}
	if level > rt.highest {
		rt.highest = level
	}
}

// Remove clears ni's cell if ni occupies it and returns its level, or -1.
func (rt *RoutingTable) Remove(ni NeighborInfo) int {
	level, value, valid := rt.cell(ni.ID)
	if !valid {
		return -1
	}
	cur := rt.table[level][value]
	if cur == nil || cur.Node != ni {
		return -1
	}
	rt.table[level][value] = nil
	rt.size--
	if level == rt.highest {
		rt.highest = -1
		for l := level; l >= 0 && rt.highest < 0; l-- {
			for v, e := range rt.table[l] {
				if e != nil && v != rt.mine[l] {
					rt.highest = l
					break
				}
			}
		}
	}
	return level
}

// Contains reports whether ni occupies its cell.
func (rt *RoutingTable) Contains(ni NeighborInfo) bool {
	level, value, valid := rt.cell(ni.ID)
	if !valid {
		return false
	}
	cur := rt.table[level][value]
	return cur != nil && cur.Node == ni
}

// FillsHole reports whether ni's cell is empty.
func (rt *RoutingTable) FillsHole(ni NeighborInfo) bool {
	level, value, valid := rt.cell(ni.ID)
	return valid && rt.table[level][value] == nil
}

// Primary returns the occupant of [level][value].
func (rt *RoutingTable) Primary(level, value int) (RoutingEntry, bool) {
	if e := rt.table[level][value]; e != nil {
		return *e, true
	}
	return RoutingEntry{}, false
}

// NextHop returns the occupant of the cell id maps to, or self when id is
// self's own id. It returns false on a hole or when the occupant is ignored.
func (rt *RoutingTable) NextHop(id guid.ID, ignore func(NeighborInfo) bool) (NeighborInfo, bool) {
	level, value, valid := rt.cell(id)
	if !valid {
		return rt.self, true
	}
	e := rt.table[level][value]
	if e == nil || (ignore != nil && ignore(e.Node)) {
		return NeighborInfo{}, false
	}
	return e.Node, true
}

// RandomNeighbor picks a uniformly random non-self entry on level.
func (rt *RoutingTable) RandomNeighbor(level int, r *rand.Rand) (NeighborInfo, bool) {
	var choices []NeighborInfo
	for v, e := range rt.table[level] {
		if e != nil && v != rt.mine[level] {
			choices = append(choices, e.Node)
		}
	}
	if len(choices) == 0 {
		return NeighborInfo{}, false
	}
	return choices[r.Intn(len(choices))], true
}

// Level returns the non-self entries on level in digit order.
func (rt *RoutingTable) Level(level int) []RoutingEntry {
	var out []RoutingEntry
	for v, e := range rt.table[level] {
		if e != nil && v != rt.mine[level] {
			out = append(out, *e)
		}
	}
	return out
}

// Holes returns the empty cells on levels up to and including Highest.
func (rt *RoutingTable) Holes() [][2]int {
	var out [][2]int
	for level := 0; level <= rt.highest; level++ {
		for v, e := range rt.table[level] {
			if e == nil {
				out = append(out, [2]int{level, v})
			}
		}
	}
	return out
}

// List returns every non-self node, shallow levels first.
func (rt *RoutingTable) List() []NeighborInfo {
	out := make([]NeighborInfo, 0, rt.size)
	for level := 0; level <= rt.highest; level++ {
		for _, e := range rt.Level(level) {
			out = append(out, e.Node)
		}
	}
	return out
}

func (rt *RoutingTable) String() string {
	var buf bytes.Buffer
	for level := 0; level <= rt.highest; level++ {
		fmt.Fprintf(&buf, "  %d:", level)
		for v, e := range rt.table[level] {
			switch {
			case v == rt.mine[level]:
				buf.WriteString(" *")
			case e != nil:
				fmt.Fprintf(&buf, " %x=%v(%v)", v, e.Node, e.RTT)
			}
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
