package tlb

import (
	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/pagewalk"
	"github.com/tinyrange/memsim/internal/simerr"
)

// indexList is an arena-backed doubly linked list over the fixed-size slot
// indices 0..n-1: front is the least-recently-used slot, back is the most
// recently used. Using plain int32 links into a pre-sized arena avoids the
// per-operation allocation and cyclic-reference bookkeeping a pointer-based
// node list would need (spec.md §9, "LRU list ownership").
type indexList struct {
	prev, next []int32
	front, back int32
}

const listEnd = -1

func newIndexList(n int) *indexList {
	l := &indexList{
		prev: make([]int32, n),
		next: make([]int32, n),
	}
	for i := 0; i < n; i++ {
		l.prev[i] = int32(i - 1)
		l.next[i] = int32(i + 1)
	}
	l.next[n-1] = listEnd
	l.front = 0
	l.back = int32(n - 1)
	return l
}

// moveBack detaches i from its current position and relinks it at the back
// (most-recently-used end), mirroring the original list.c's move_back.
func (l *indexList) moveBack(i int32) {
	if i == l.back {
		return
	}
	p, n := l.prev[i], l.next[i]
	if p != listEnd {
		l.next[p] = n
	} else {
		l.front = n
	}
	if n != listEnd {
		l.prev[n] = p
	}

	l.prev[i] = l.back
	l.next[i] = listEnd
	l.next[l.back] = i
	l.back = i
}

// AssocEntry is one line of the fully-associative TLB: unlike the
// direct-mapped variant's tag (a VPN with the index bits stripped), this
// variant stores the complete virtual page number since any slot may hold
// any VPN.
type AssocEntry struct {
	Valid      bool
	VPN        uint64
	PhyPageNum uint32
}

// Assoc is the fully-associative, LRU-managed TLB variant of spec.md §4.4.
type Assoc struct {
	entries []AssocEntry
	lru     *indexList
}

// NewAssoc builds a fully-associative TLB with the given number of lines.
func NewAssoc(lines int) *Assoc {
	return &Assoc{
		entries: make([]AssocEntry, lines),
		lru:     newIndexList(lines),
	}
}

// Flush invalidates every entry without disturbing LRU order.
func (a *Assoc) Flush() {
	for i := range a.entries {
		a.entries[i] = AssocEntry{}
	}
}

// Hit scans from the most-recently-used slot backward (mirroring the
// original's for_all_nodes_reverse), matching the full VPN. On a match it
// moves that slot to the back (most-recently-used) and returns the
// translated physical address.
func (a *Assoc) Hit(v addr.Virtual) (addr.Physical, bool) {
	vpn := v.VPN()
	for i := a.lru.back; i != listEnd; i = a.lru.prev[i] {
		e := a.entries[i]
		if e.Valid && e.VPN == vpn {
			a.lru.moveBack(i)
			return addr.Physical{PhyPageNum: e.PhyPageNum, Offset: uint32(v.Offset)}, true
		}
	}
	return addr.Physical{}, false
}

// Search performs the lookup-or-walk-and-replace protocol: on a miss it
// page-walks, overwrites the least-recently-used slot, and moves that slot
// to the back.
func (a *Assoc) Search(mem *memimage.Image, v addr.Virtual) (addr.Physical, bool, error) {
	if p, ok := a.Hit(v); ok {
		return p, true, nil
	}

	p, err := pagewalk.Walk(mem, v)
	if err != nil {
		return addr.Physical{}, false, err
	}

	victim := a.lru.front
	a.entries[victim] = AssocEntry{Valid: true, VPN: v.VPN(), PhyPageNum: p.PhyPageNum}
	a.lru.moveBack(victim)

	return p, false, nil
}

// Lines reports the number of slots, satisfying callers that need to
// validate an index against it (mirroring spec.md's TLB_LINES usage).
func (a *Assoc) Lines() int { return len(a.entries) }

// insertAt is exposed for tests that want to pin a specific slot without
// going through a page walk; out-of-range indices are a caller error.
func (a *Assoc) insertAt(index int, e AssocEntry) error {
	if index < 0 || index >= len(a.entries) {
		return simerr.New("tlb.Assoc.insertAt", simerr.BadParameter)
	}
	a.entries[index] = e
	return nil
}
