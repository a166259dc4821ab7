// Package pagewalk traverses the four on-memory page-table levels to
// translate a virtual address into a physical one, per spec.md §4.2 and the
// original page_walk.c it was distilled from.
package pagewalk

import (
	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/simerr"
)

const pteSize = 4

// Walk performs a four-level page walk for vaddr against mem, starting from
// the PGD table at byte offset 0. It does not check any presence bit (none
// are modelled); a zero entry still produces a deterministic physical
// address referencing whatever lives at that (possibly uninitialized)
// location. It fails only on a nil image or when a table entry to be read
// lies outside the image.
func Walk(mem *memimage.Image, v addr.Virtual) (addr.Physical, error) {
	if mem == nil {
		return addr.Physical{}, simerr.New("pagewalk.Walk", simerr.BadParameter)
	}

	tableBase := uint64(0)
	for _, index := range [...]uint16{v.PGD, v.PUD, v.PMD, v.PTE} {
		entry, err := mem.ReadPTE(tableBase + uint64(index)*pteSize)
		if err != nil {
			return addr.Physical{}, simerr.Wrap("pagewalk.Walk", simerr.BadParameter, err)
		}
		tableBase = uint64(entry)
	}

	return addr.New(uint32(tableBase), uint32(v.Offset))
}
