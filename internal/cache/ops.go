package cache

import (
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/simerr"
	"github.com/tinyrange/memsim/internal/simstat"
)

func lineBaseOf(paddr uint64) uint64 {
	return paddr &^ (bytesPerLine - 1)
}

func wordIndexOf(paddr uint64) int {
	return int((paddr / 4) % WordsPerLine)
}

func fetchLine(mem *memimage.Image, lineBase uint64) ([WordsPerLine]uint32, error) {
	words, err := mem.ReadLine(lineBase, WordsPerLine)
	if err != nil {
		return [WordsPerLine]uint32{}, err
	}
	var line [WordsPerLine]uint32
	copy(line[:], words)
	return line, nil
}

func record(rec *simstat.Recorder, kind simstat.Kind, event simstat.Event) {
	if rec != nil {
		rec.Record(kind, event)
	}
}

// Read implements spec.md §4.5's cache_read: probe l1, then l2, then fall
// back to memory, installing the resolved line into l1 (cascading any
// eviction into l2) along the way. l1Kind and l2Kind name the statistics
// kinds that l1's and l2's events are recorded under (rec may be nil).
func Read(mem *memimage.Image, paddr uint64, l1, l2 *Cache, rec *simstat.Recorder, l1Kind, l2Kind simstat.Kind) (uint32, error) {
	if paddr%4 != 0 {
		return 0, simerr.New("cache.Read", simerr.BadParameter)
	}

	if set, way, ok := l1.Lookup(paddr); ok {
		l1.ageUpdate(set, way)
		record(rec, l1Kind, simstat.Hit)
		return l1.sets[set][way].Line[wordIndexOf(paddr)], nil
	}
	record(rec, l1Kind, simstat.Miss)

	lineBase := lineBaseOf(paddr)

	if set, way, ok := l2.Lookup(paddr); ok {
		record(rec, l2Kind, simstat.Hit)
		line := l2.sets[set][way].Line
		l2.invalidate(set, way)
		promote(l1, l2, lineBase, line, rec, l1Kind, l2Kind)
		return line[wordIndexOf(paddr)], nil
	}
	record(rec, l2Kind, simstat.Miss)

	line, err := fetchLine(mem, lineBase)
	if err != nil {
		return 0, err
	}
	promote(l1, l2, lineBase, line, rec, l1Kind, l2Kind)
	return line[wordIndexOf(paddr)], nil
}

// Write implements spec.md §4.5's cache_write under the repaired exclusive
// policy resolved in SPEC_FULL.md §9: an L2 hit is never updated in place
// (doing so would leave a stale copy reachable after the line is later
// promoted into L1); instead the line is invalidated out of L2 and promoted
// into L1 exactly as a read would, and the write is then applied to the now
// L1-resident copy. Every path mirrors the written word through to mem so a
// fresh fetch of the same address is consistent.
func Write(mem *memimage.Image, paddr uint64, l1d, l2 *Cache, word uint32, rec *simstat.Recorder, l1Kind, l2Kind simstat.Kind) error {
	if paddr%4 != 0 {
		return simerr.New("cache.Write", simerr.BadParameter)
	}

	if set, way, ok := l1d.Lookup(paddr); ok {
		l1d.sets[set][way].Line[wordIndexOf(paddr)] = word
		l1d.ageUpdate(set, way)
		record(rec, l1Kind, simstat.Hit)
		return mem.WriteWord(paddr, word)
	}
	record(rec, l1Kind, simstat.Miss)

	lineBase := lineBaseOf(paddr)

	if set, way, ok := l2.Lookup(paddr); ok {
		record(rec, l2Kind, simstat.Hit)
		line := l2.sets[set][way].Line
		l2.invalidate(set, way)
		promote(l1d, l2, lineBase, line, rec, l1Kind, l2Kind)
		if s, w, ok := l1d.Lookup(paddr); ok {
			l1d.sets[s][w].Line[wordIndexOf(paddr)] = word
			l1d.ageUpdate(s, w)
		}
		return mem.WriteWord(paddr, word)
	}
	record(rec, l2Kind, simstat.Miss)

	line, err := fetchLine(mem, lineBase)
	if err != nil {
		return err
	}
	line[wordIndexOf(paddr)] = word
	if err := mem.WriteLine(lineBase, line[:]); err != nil {
		return err
	}
	promote(l1d, l2, lineBase, line, rec, l1Kind, l2Kind)
	return nil
}

// ReadByte extracts one little-endian byte out of the word-aligned read at
// paddr's containing word.
func ReadByte(mem *memimage.Image, paddr uint64, l1, l2 *Cache, rec *simstat.Recorder, l1Kind, l2Kind simstat.Kind) (byte, error) {
	wordAddr := paddr &^ 3
	word, err := Read(mem, wordAddr, l1, l2, rec, l1Kind, l2Kind)
	if err != nil {
		return 0, err
	}
	shift := (paddr % 4) * 8
	return byte(word >> shift), nil
}

// WriteByte merges value into its containing word (read-modify-write through
// the same cache path) and commits the merged word via Write.
func WriteByte(mem *memimage.Image, paddr uint64, l1d, l2 *Cache, value byte, rec *simstat.Recorder, l1Kind, l2Kind simstat.Kind) error {
	wordAddr := paddr &^ 3
	word, err := Read(mem, wordAddr, l1d, l2, rec, l1Kind, l2Kind)
	if err != nil {
		return err
	}
	shift := (paddr % 4) * 8
	mask := uint32(0xFF) << shift
	word = (word &^ mask) | (uint32(value) << shift)
	return Write(mem, wordAddr, l1d, l2, word, rec, l1Kind, l2Kind)
}
