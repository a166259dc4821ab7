// Package addr packs and unpacks the virtual and physical address formats
// the simulator walks and caches against: a 9/9/9/9/12-bit virtual address
// (PGD/PUD/PMD/PTE/offset) and a 20/12-bit physical address (page
// number/offset). Fields are plain masks and shifts over uint64/uint32, in
// the style the teacher's mem package uses for its own PTE bit constants.
package addr

import "github.com/tinyrange/memsim/internal/simerr"

const (
	// PageOffsetBits is the width of the page-offset field, common to both
	// virtual and physical addresses.
	PageOffsetBits = 12
	// EntryBits is the width of each of the four virtual page-table index
	// fields (PGD, PUD, PMD, PTE).
	EntryBits = 9
	// PhysPageBits is the width of the physical page number.
	PhysPageBits = 20

	maxEntry  = (1 << EntryBits) - 1
	maxOffset = (1 << PageOffsetBits) - 1
	maxPhys   = (1 << PhysPageBits) - 1

	pteShift    = PageOffsetBits
	pmdShift    = pteShift + EntryBits
	pudShift    = pmdShift + EntryBits
	pgdShift    = pudShift + EntryBits
	usedBits    = pgdShift + EntryBits // 48
	reservedAll = ^uint64((1 << usedBits) - 1)
)

// Virtual is a decomposed virtual address: five independently-constructed
// fields. Every field is validated on construction to lie within its
// declared width (spec.md §3, invariant 1).
type Virtual struct {
	PGD    uint16
	PUD    uint16
	PMD    uint16
	PTE    uint16
	Offset uint16
}

// FromFields validates and builds a Virtual from its five component fields.
func FromFields(pgd, pud, pmd, pte, offset uint16) (Virtual, error) {
	if pgd > maxEntry || pud > maxEntry || pmd > maxEntry || pte > maxEntry {
		return Virtual{}, simerr.New("addr.FromFields", simerr.BadParameter)
	}
	if offset > maxOffset {
		return Virtual{}, simerr.New("addr.FromFields", simerr.BadParameter)
	}
	return Virtual{PGD: pgd, PUD: pud, PMD: pmd, PTE: pte, Offset: offset}, nil
}

// FromUint64 decomposes a raw 64-bit word into its five fields. The open
// question in spec.md §9 (mask vs. reject reserved bits) is resolved
// strictly: any of the upper 16 reserved bits being set is a BadParameter,
// not a silent mask.
func FromUint64(x uint64) (Virtual, error) {
	if x&reservedAll != 0 {
		return Virtual{}, simerr.New("addr.FromUint64", simerr.BadParameter)
	}
	return Virtual{
		PGD:    uint16((x >> pgdShift) & maxEntry),
		PUD:    uint16((x >> pudShift) & maxEntry),
		PMD:    uint16((x >> pmdShift) & maxEntry),
		PTE:    uint16((x >> pteShift) & maxEntry),
		Offset: uint16(x & maxOffset),
	}, nil
}

// Uint64 reassembles the raw 48-bit address (upper 16 bits always zero).
func (v Virtual) Uint64() uint64 {
	return uint64(v.PGD)<<pgdShift |
		uint64(v.PUD)<<pudShift |
		uint64(v.PMD)<<pmdShift |
		uint64(v.PTE)<<pteShift |
		uint64(v.Offset)
}

// VPN returns the 36-bit virtual page number: the PGD|PUD|PMD|PTE
// concatenation, with the page offset stripped off.
func (v Virtual) VPN() uint64 {
	return v.Uint64() >> PageOffsetBits
}

// Physical is a physical address: a 20-bit page number and 12-bit offset.
type Physical struct {
	PhyPageNum uint32
	Offset     uint32
}

// New validates offset and derives the physical page number from
// pageBase's bits above the page-offset width, following the original
// page-walk's `(L0 >> 12) & mask20` derivation.
func New(pageBase uint32, offset uint32) (Physical, error) {
	if offset > maxOffset {
		return Physical{}, simerr.New("addr.New", simerr.BadParameter)
	}
	return Physical{
		PhyPageNum: (pageBase >> PageOffsetBits) & maxPhys,
		Offset:     offset,
	}, nil
}

// Uint32 packs the physical address as (page_num<<12)|offset.
func (p Physical) Uint32() uint32 {
	return p.PhyPageNum<<PageOffsetBits | p.Offset
}
