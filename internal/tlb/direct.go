// Package tlb implements the two-level TLB hierarchy (spec.md §4.3): three
// fixed-size direct-mapped arrays (L1-I, L1-D, L2) with cross-invalidation
// between the two L1s, plus a separate fully-associative LRU variant
// (lru.go) demonstrating that the translation core is orthogonal to
// replacement policy.
package tlb

import (
	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/pagewalk"
	"github.com/tinyrange/memsim/internal/simerr"
	"github.com/tinyrange/memsim/internal/simstat"
)

// Access distinguishes instruction fetches from data accesses, selecting
// which L1 TLB (and, in the cache hierarchy, which L1 cache) an operation
// consults.
type Access int

const (
	Data Access = iota
	Instruction
)

const (
	// L1Lines is the number of direct-mapped lines in each L1 TLB.
	L1Lines = 16
	// L2Lines is the number of direct-mapped lines in the L2 TLB.
	L2Lines = 64

	l1IndexBits = 4 // log2(L1Lines)
	l2IndexBits = 6 // log2(L2Lines)
)

// Kind names one of the three TLB arrays.
type Kind int

const (
	L1I Kind = iota
	L1D
	L2
)

func linesFor(k Kind) uint64 {
	if k == L2 {
		return L2Lines
	}
	return L1Lines
}

func tagShiftFor(k Kind) uint {
	if k == L2 {
		return l2IndexBits
	}
	return l1IndexBits
}

// Entry is one TLB line: {valid, tag, physical page number}.
type Entry struct {
	Valid      bool
	Tag        uint64
	PhyPageNum uint32
}

// Hierarchy holds the three direct-mapped TLB arrays.
type Hierarchy struct {
	l1i [L1Lines]Entry
	l1d [L1Lines]Entry
	l2  [L2Lines]Entry
}

func (h *Hierarchy) arrayFor(k Kind) []Entry {
	switch k {
	case L1I:
		return h.l1i[:]
	case L1D:
		return h.l1d[:]
	default:
		return h.l2[:]
	}
}

func accessKind(a Access) Kind {
	if a == Instruction {
		return L1I
	}
	return L1D
}

func siblingKind(a Access) Kind {
	if a == Instruction {
		return L1D
	}
	return L1I
}

// Flush zero-initializes every line of the given TLB kind.
func (h *Hierarchy) Flush(k Kind) {
	arr := h.arrayFor(k)
	for i := range arr {
		arr[i] = Entry{}
	}
}

// EntryInit builds the TLB entry that would be installed for vaddr/paddr in
// the given kind: tag = VPN >> log2(lines of kind), per spec.md §4.3.
func EntryInit(v addr.Virtual, p addr.Physical, k Kind) Entry {
	vpn := v.VPN()
	return Entry{
		Valid:      true,
		Tag:        vpn >> tagShiftFor(k),
		PhyPageNum: p.PhyPageNum,
	}
}

// Insert installs entry at the given line index of kind k.
func (h *Hierarchy) Insert(index uint32, entry Entry, k Kind) error {
	arr := h.arrayFor(k)
	if uint64(index) >= uint64(len(arr)) {
		return simerr.New("tlb.Insert", simerr.BadParameter)
	}
	arr[index] = entry
	return nil
}

func indexFor(vpn uint64, k Kind) uint32 {
	return uint32(vpn % linesFor(k))
}

// Hit probes the given TLB kind for vaddr. On a hit it returns the physical
// address reconstructed from the matching entry's physical page number and
// vaddr's own page offset.
func (h *Hierarchy) Hit(v addr.Virtual, k Kind) (addr.Physical, bool) {
	vpn := v.VPN()
	idx := indexFor(vpn, k)
	e := h.arrayFor(k)[idx]
	if !e.Valid || e.Tag != vpn>>tagShiftFor(k) {
		return addr.Physical{}, false
	}
	return addr.Physical{PhyPageNum: e.PhyPageNum, Offset: uint32(v.Offset)}, true
}

// Inspect reports the raw contents of one line of kind k, for diagnostic
// dumps; ok is false only when index is out of range.
func (h *Hierarchy) Inspect(index uint32, k Kind) (valid bool, tag uint64, phyPageNum uint32, ok bool) {
	arr := h.arrayFor(k)
	if uint64(index) >= uint64(len(arr)) {
		return false, 0, 0, false
	}
	e := arr[index]
	return e.Valid, e.Tag, e.PhyPageNum, true
}

// crossInvalidate implements spec.md §4.3 step 3 / §3 invariant 4: after
// installing into L1 at l1Index whose L2 index is l2Index, invalidate the
// sibling L1 slot at the same index if its current tag's low
// (l2IndexBits-l1IndexBits) bits equal l2Index's high bits — the exact
// condition for the sibling to alias the same L2 set. L1 has 4 bits of
// index and L2 has 6, so the extra 2 bits of L2 index were folded into the
// low 2 bits of the L1 tag. kindL1I/kindL1D name the sibling's statistics
// kind so the invalidation, if it happens, can be counted (rec may be nil).
func (h *Hierarchy) crossInvalidate(l1Index uint32, l2Index uint32, installed Access, rec *simstat.Recorder, kindL1I, kindL1D simstat.Kind) {
	sibling := h.arrayFor(siblingKind(installed))
	e := &sibling[l1Index]
	if !e.Valid {
		return
	}
	extraBits := l2IndexBits - l1IndexBits
	highBitsOfL2 := l2Index >> l1IndexBits
	lowBitsOfSiblingTag := uint32(e.Tag) & ((1 << extraBits) - 1)
	if lowBitsOfSiblingTag == highBitsOfL2 {
		*e = Entry{}
		if rec != nil {
			kind := kindL1I
			if siblingKind(installed) == L1D {
				kind = kindL1D
			}
			rec.Record(kind, simstat.CrossInvalidate)
		}
	}
}

// Search performs the full lookup protocol of spec.md §4.3: L1 probe, then
// L2 probe-and-promote, then page-walk-and-install-with-cross-invalidation.
// hit reports whether the translation was served from a TLB (as opposed to
// a fresh page walk). rec/kindL1I/kindL1D record any cross-invalidation
// this lookup triggers (rec may be nil to skip statistics entirely).
func (h *Hierarchy) Search(mem *memimage.Image, v addr.Virtual, access Access, rec *simstat.Recorder, kindL1I, kindL1D simstat.Kind) (p addr.Physical, hit bool, err error) {
	if p, ok := h.Hit(v, accessKind(access)); ok {
		return p, true, nil
	}
	if p, ok := h.Hit(v, L2); ok {
		l1Index := indexFor(v.VPN(), accessKind(access))
		entry := EntryInit(v, p, accessKind(access))
		_ = h.Insert(l1Index, entry, accessKind(access))
		return p, true, nil
	}

	p, err = pagewalk.Walk(mem, v)
	if err != nil {
		return addr.Physical{}, false, err
	}

	vpn := v.VPN()
	l2Index := indexFor(vpn, L2)
	_ = h.Insert(l2Index, EntryInit(v, p, L2), L2)

	l1Index := indexFor(vpn, accessKind(access))
	_ = h.Insert(l1Index, EntryInit(v, p, accessKind(access)), accessKind(access))

	h.crossInvalidate(l1Index, l2Index, access, rec, kindL1I, kindL1D)

	return p, false, nil
}
