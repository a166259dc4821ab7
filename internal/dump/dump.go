// Package dump renders the diagnostic views spec.md §6 calls for — virtual
// and physical addresses in a fixed hex layout, per-way per-set cache
// content, and TLB snapshots — colorizing them when the output is an
// interactive terminal. The layout is diagnostic only, never load-bearing
// for correctness (spec.md §6).
package dump

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/cache"
	"github.com/tinyrange/memsim/internal/tlb"
)

const (
	sgrBold   = ansi.CSI + "1m"
	sgrFaint  = ansi.CSI + "2m"
	sgrGreen  = ansi.CSI + "32m"
	sgrRed    = ansi.CSI + "31m"
	sgrYellow = ansi.CSI + "33m"
	sgrReset  = ansi.CSI + "0m"
)

// Writer renders dumps to an underlying io.Writer, colorizing its output
// only when that writer is a terminal.
type Writer struct {
	w      io.Writer
	colors bool
}

// NewWriter wraps w. Coloring is enabled only when w is an *os.File whose
// file descriptor is an interactive terminal, per
// golang.org/x/term.IsTerminal.
func NewWriter(w io.Writer) *Writer {
	colors := false
	if f, ok := w.(*os.File); ok {
		colors = term.IsTerminal(int(f.Fd()))
	}
	return &Writer{w: w, colors: colors}
}

func (d *Writer) style(code, s string) string {
	if !d.colors {
		return s
	}
	return code + s + sgrReset
}

// VirtAddr renders a virtual address's five fields in a fixed layout.
func (d *Writer) VirtAddr(v addr.Virtual) {
	fmt.Fprintf(d.w, "%s pgd=%03x pud=%03x pmd=%03x pte=%03x off=%03x (vpn=%#09x)\n",
		d.style(sgrBold, "vaddr"), v.PGD, v.PUD, v.PMD, v.PTE, v.Offset, v.VPN())
}

// PhysAddr renders a physical address's two fields.
func (d *Writer) PhysAddr(p addr.Physical) {
	fmt.Fprintf(d.w, "%s ppn=%05x off=%03x\n", d.style(sgrBold, "paddr"), p.PhyPageNum, p.Offset)
}

// CacheSet renders one set of a cache: every way's validity, age, tag, and
// resident words.
func (d *Writer) CacheSet(c *cache.Cache, set int, name string) {
	geo := c.Geometry()
	fmt.Fprintf(d.w, "%s set %d/%d\n", d.style(sgrBold, name), set, geo.Lines)
	for way := 0; way < geo.Ways; way++ {
		valid, age, tag, line, ok := c.Inspect(set, way)
		if !ok {
			continue
		}
		label := fmt.Sprintf("  way %d: valid=%v age=%d tag=%#x line=%v", way, valid, age, tag, line)
		if !valid {
			fmt.Fprintln(d.w, d.style(sgrFaint, label))
		} else {
			fmt.Fprintln(d.w, d.style(sgrGreen, label))
		}
	}
}

// TLBLine renders one line of a TLB hierarchy kind.
func (d *Writer) TLBLine(h *tlb.Hierarchy, k tlb.Kind, index uint32) {
	valid, tag, ppn, ok := h.Inspect(index, k)
	label := fmt.Sprintf("line %d: valid=%v tag=%#x ppn=%#x", index, valid, tag, ppn)
	if !ok {
		fmt.Fprintln(d.w, d.style(sgrRed, fmt.Sprintf("line %d: out of range", index)))
		return
	}
	if !valid {
		fmt.Fprintln(d.w, d.style(sgrFaint, label))
	} else {
		fmt.Fprintln(d.w, d.style(sgrYellow, label))
	}
}
