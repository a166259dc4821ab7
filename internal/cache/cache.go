// Package cache implements the two-level set-associative cache hierarchy of
// spec.md §4.5: per-set LRU bookkeeping, the exclusive L1<->L2 victim
// protocol, and the cache_read/cache_write/byte-variant operations that sit
// on top of it. One Cache value serves any of the three kinds (L1-I, L1-D,
// L2); callers construct each with its own geometry (see Geometry below).
package cache

import (
	"github.com/tinyrange/memsim/internal/simerr"
)

const (
	// WordsPerLine is fixed at 4 for every cache kind (spec.md §3).
	WordsPerLine = 4
	// bytesPerLine is the line size in bytes; its base-2 log (4) is the
	// number of low physical-address bits consumed by word-select (2 bits)
	// and byte-in-word (2 bits) before the set index begins.
	bytesPerLine   = WordsPerLine * 4
	lineOffsetBits = 4 // log2(bytesPerLine)
)

// Geometry fixes a cache kind's compile-time shape: number of ways, number
// of sets (lines), and log2(lines). Spec.md's design notes call for a
// generic component parameterised over a {ways, lines, words_per_line,
// tag_bits} capability set; since Go lacks value-level generic
// specialisation for struct layouts, Geometry plays that role as an
// explicit, validated construction parameter instead of a type parameter.
type Geometry struct {
	Ways      int
	Lines     int
	IndexBits uint // log2(Lines)
}

// Standard geometries for the three cache kinds named throughout the spec.
// LINES/WAYS are not fixed by spec.md beyond WORDS_PER_LINE=4; these values
// are this implementation's resolution of that freedom (see DESIGN.md).
var (
	L1Geometry = Geometry{Ways: 4, Lines: 64, IndexBits: 6}
	L2Geometry = Geometry{Ways: 8, Lines: 256, IndexBits: 8}
)

// tagShift is where each Geometry's tag field begins within a physical
// address: index bits plus the fixed line-offset bits.
func (g Geometry) tagShift() uint { return g.IndexBits + lineOffsetBits }

// tagBits is the width of the tag field, per spec.md §3's
// "32 - log2(LINES) - log2(WORDS_PER_LINE) - 2" formula.
func (g Geometry) tagBits() uint { return 32 - g.IndexBits - 4 }

// Entry is one cache line: validity, LRU age, tag, and the resident words.
// Per spec.md invariant 1, an entry with Valid=false must never be
// consulted; Cache always zeroes the whole struct on invalidation so a
// stale line is never partially inspectable.
type Entry struct {
	Valid bool
	Age   uint8
	Tag   uint32
	Line  [WordsPerLine]uint32
}

// Cache is one set-associative array: Geometry.Lines sets of Geometry.Ways
// ways each.
type Cache struct {
	geo  Geometry
	sets [][]Entry
}

// New allocates a zero-initialized (all-invalid) cache of the given geometry.
func New(geo Geometry) *Cache {
	sets := make([][]Entry, geo.Lines)
	for i := range sets {
		sets[i] = make([]Entry, geo.Ways)
	}
	return &Cache{geo: geo, sets: sets}
}

// Geometry reports the cache's shape.
func (c *Cache) Geometry() Geometry { return c.geo }

// Flush zero-initializes every entry of every set, satisfying testable
// property 3 (all invalid entries read back as age=0, tag=0, zero line).
func (c *Cache) Flush() {
	for i := range c.sets {
		for w := range c.sets[i] {
			c.sets[i][w] = Entry{}
		}
	}
}

func (c *Cache) setIndex(paddr uint64) int {
	return int((paddr / bytesPerLine) % uint64(c.geo.Lines))
}

func (c *Cache) tagOf(paddr uint64) uint32 {
	return uint32(paddr >> c.geo.tagShift())
}

// reconstructPaddr rebuilds the line-aligned physical address an entry's
// tag and the set it lives in correspond to — the inverse of setIndex/tagOf,
// used when an evicted victim must be re-homed into the next level.
func (c *Cache) reconstructPaddr(tag uint32, set int) uint64 {
	return uint64(tag)<<c.geo.tagShift() | uint64(set)<<lineOffsetBits
}

// EntryInit builds the entry that would be installed for a line-aligned
// physical address, copying WordsPerLine words out of line. paddr must
// already be line-aligned (spec.md's cache_entry_init requirement); callers
// that have an unaligned address should align it down first.
func EntryInit(paddr uint64, line [WordsPerLine]uint32, geo Geometry) (Entry, error) {
	if paddr%bytesPerLine != 0 {
		return Entry{}, simerr.New("cache.EntryInit", simerr.BadParameter)
	}
	tagShift := geo.tagShift()
	return Entry{Valid: true, Age: 0, Tag: uint32(paddr >> tagShift), Line: line}, nil
}

// Insert bit-copies entry into (set, way), bounds-checked.
func (c *Cache) Insert(set, way int, entry Entry) error {
	if set < 0 || set >= c.geo.Lines || way < 0 || way >= c.geo.Ways {
		return simerr.New("cache.Insert", simerr.BadParameter)
	}
	c.sets[set][way] = entry
	return nil
}

// Inspect reports the raw contents of (set, way) for diagnostic dumps;
// ok is false only when set/way are out of range.
func (c *Cache) Inspect(set, way int) (valid bool, age uint8, tag uint32, line [WordsPerLine]uint32, ok bool) {
	if set < 0 || set >= c.geo.Lines || way < 0 || way >= c.geo.Ways {
		return false, 0, 0, line, false
	}
	e := c.sets[set][way]
	return e.Valid, e.Age, e.Tag, e.Line, true
}

// HitWayMiss and HitIndexMiss are the sentinel outputs spec.md's cache_hit
// uses for "no hit" (way/index invalid). Lookup below returns them alongside
// ok=false; prefer checking ok over comparing against these directly.
const (
	HitWayMiss   = -1
	HitIndexMiss = -1
)

// Lookup searches the set addressed by paddr for a tag match. Per spec.md's
// note, ways are scanned low-to-high and the scan stops at the first
// invalid way: the LRU fill order (ageIncrease always targets the lowest
// invalid way) guarantees valid ways occupy a contiguous prefix of the set,
// so an invalid way can never be followed by a valid one. Every code path
// that populates a set (ageIncrease below, and the recursive eviction cascade
// in promote.go) preserves that fill-left-to-right order, and invalidate in
// promote.go closes the gap it leaves by shifting the later ways down.
func (c *Cache) Lookup(paddr uint64) (set, way int, ok bool) {
	set = c.setIndex(paddr)
	tag := c.tagOf(paddr)
	for w := 0; w < c.geo.Ways; w++ {
		e := c.sets[set][w]
		if !e.Valid {
			return HitIndexMiss, HitWayMiss, false
		}
		if e.Tag == tag {
			return set, w, true
		}
	}
	return HitIndexMiss, HitWayMiss, false
}

// ageIncrease is LRU_age_increase: used when inserting into a previously
// empty (invalid) slot. Every other valid way's age saturates up by one;
// the newly-filled way becomes age 0 (most recently used).
func (c *Cache) ageIncrease(set, way int) {
	s := c.sets[set]
	for w := range s {
		if w == way {
			continue
		}
		if s[w].Valid && s[w].Age < uint8(c.geo.Ways-1) {
			s[w].Age++
		}
	}
	s[way].Age = 0
}

// ageUpdate is LRU_age_update: used on a hit, or after replacing a way in a
// full set. Every way whose age was strictly less than the chosen way's
// previous age moves up by one; the chosen way becomes age 0. This keeps the
// set's ages a permutation of 0..k-1 (spec.md invariant 2).
func (c *Cache) ageUpdate(set, way int) {
	s := c.sets[set]
	prev := s[way].Age
	for w := range s {
		if s[w].Age < prev {
			s[w].Age++
		}
	}
	s[way].Age = 0
}
