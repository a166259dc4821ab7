package cache

import (
	"testing"

	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/simstat"
)

func seedLine(t *testing.T, mem *memimage.Image, lineBase uint64, vals ...uint32) {
	t.Helper()
	if err := mem.WriteLine(lineBase, vals); err != nil {
		t.Fatal(err)
	}
}

func TestReadColdMissInstallsIntoL1(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 10, 20, 30, 40)

	word, err := Read(mem, 4, l1, l2, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if word != 20 {
		t.Fatalf("expected 20, got %d", word)
	}
	if _, _, ok := l1.Lookup(4); !ok {
		t.Fatal("expected line to be installed into L1 after a cold miss")
	}
	if _, _, ok := l2.Lookup(4); ok {
		t.Fatal("L2 should remain empty on a pure cold miss (exclusive policy)")
	}
}

func TestReadL1HitDoesNotTouchL2(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 1, 2, 3, 4)

	if _, err := Read(mem, 0, l1, l2, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(mem, 0, l1, l2, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := l2.Lookup(0); ok {
		t.Fatal("L2 must stay empty; the line never left L1")
	}
}

func TestL1EvictionPromotesIntoL2Exclusively(t *testing.T) {
	mem := memimage.New(1 << 20)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)

	// Fill every way of L1 set 0 with distinct lines (L1 has 64 sets, so
	// line addresses must be multiples of 64*bytesPerLine to share set 0).
	stride := uint64(L1Geometry.Lines) * bytesPerLine
	for i := 0; i < L1Geometry.Ways; i++ {
		base := uint64(i) * stride
		seedLine(t, mem, base, uint32(i), uint32(i), uint32(i), uint32(i))
		if _, err := Read(mem, base, l1, l2, nil, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	// One more distinct line into the same L1 set evicts the LRU way.
	extra := uint64(L1Geometry.Ways) * stride
	seedLine(t, mem, extra, 99, 99, 99, 99)
	if _, err := Read(mem, extra, l1, l2, nil, 0, 0); err != nil {
		t.Fatal(err)
	}

	// The victim (address 0, the least-recently-used line) must now live
	// in L2, and must no longer be resident in L1.
	if _, _, ok := l1.Lookup(0); ok {
		t.Fatal("expected the LRU line to have been evicted from L1")
	}
	if _, _, ok := l2.Lookup(0); !ok {
		t.Fatal("expected the evicted L1 line to be promoted into L2")
	}
}

func TestL2HitPromotesAndInvalidatesL2Copy(t *testing.T) {
	mem := memimage.New(1 << 20)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)

	lineBase := uint64(0)
	seedLine(t, mem, lineBase, 7, 7, 7, 7)
	entry, err := EntryInit(lineBase, [WordsPerLine]uint32{7, 7, 7, 7}, l2.geo)
	if err != nil {
		t.Fatal(err)
	}
	set := l2.setIndex(lineBase)
	if err := l2.Insert(set, 0, entry); err != nil {
		t.Fatal(err)
	}
	l2.ageIncrease(set, 0)

	word, err := Read(mem, lineBase, l1, l2, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if word != 7 {
		t.Fatalf("expected 7, got %d", word)
	}
	if _, _, ok := l1.Lookup(lineBase); !ok {
		t.Fatal("expected L2 hit to promote the line into L1")
	}
	if _, _, ok := l2.Lookup(lineBase); ok {
		t.Fatal("expected the L2 copy to be invalidated once promoted (exclusive policy)")
	}
}

func TestWriteHitUpdatesL1AndMirrorsMemory(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 1, 2, 3, 4)

	if _, err := Read(mem, 0, l1, l2, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := Write(mem, 4, l1, l2, 999, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	word, err := Read(mem, 4, l1, l2, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if word != 999 {
		t.Fatalf("expected 999 after write, got %d", word)
	}
	memWord, err := mem.ReadWord(4)
	if err != nil {
		t.Fatal(err)
	}
	if memWord != 999 {
		t.Fatalf("expected write to mirror through to memory, got %d", memWord)
	}
}

func TestWriteColdMissIsWriteAllocate(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 1, 2, 3, 4)

	if err := Write(mem, 8, l1, l2, 42, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := l1.Lookup(8); !ok {
		t.Fatal("expected write-allocate to install the line into L1")
	}
	memWord, err := mem.ReadWord(8)
	if err != nil {
		t.Fatal(err)
	}
	if memWord != 42 {
		t.Fatalf("expected line written back to memory with the new word, got %d", memWord)
	}
}

func TestWriteByteMergesWithinWord(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 0x11223344, 0, 0, 0)

	if err := WriteByte(mem, 1, l1, l2, 0xAB, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	word, err := Read(mem, 0, l1, l2, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0x1122AB44 {
		t.Fatalf("expected byte 1 replaced, got %#x", word)
	}
}

func TestReadByteExtractsLittleEndian(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 0x11223344, 0, 0, 0)

	b, err := ReadByte(mem, 2, l1, l2, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0x22 {
		t.Fatalf("expected 0x22, got %#x", b)
	}
}

func TestFlushClearsAllWays(t *testing.T) {
	mem := memimage.New(1 << 16)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	seedLine(t, mem, 0, 1, 2, 3, 4)
	if _, err := Read(mem, 0, l1, l2, nil, 0, 0); err != nil {
		t.Fatal(err)
	}
	l1.Flush()
	if _, _, ok := l1.Lookup(0); ok {
		t.Fatal("expected flush to invalidate every entry")
	}
}

func TestLookupStopsAtFirstInvalidWay(t *testing.T) {
	l1 := New(L1Geometry)
	// Populate way 1 directly without touching way 0, violating the
	// fill-left-to-right invariant on purpose to pin down the documented
	// short-circuit behavior: Lookup must still report a miss.
	entry, err := EntryInit(0, [WordsPerLine]uint32{1, 2, 3, 4}, l1.geo)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Insert(0, 1, entry); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := l1.Lookup(0); ok {
		t.Fatal("expected Lookup to short-circuit miss at way 0's invalid entry")
	}
}

func TestEvictionIsRecorded(t *testing.T) {
	mem := memimage.New(1 << 20)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	rec := simstat.NewRecorder()
	kindL1 := simstat.RegisterKind("test-eviction-l1")
	kindL2 := simstat.RegisterKind("test-eviction-l2")

	stride := uint64(L1Geometry.Lines) * bytesPerLine
	for i := 0; i < L1Geometry.Ways; i++ {
		base := uint64(i) * stride
		seedLine(t, mem, base, uint32(i), uint32(i), uint32(i), uint32(i))
		if _, err := Read(mem, base, l1, l2, rec, kindL1, kindL2); err != nil {
			t.Fatal(err)
		}
	}
	if c := rec.Snapshot()["test-eviction-l1"]; c.Evictions != 0 {
		t.Fatalf("expected no evictions while L1 set 0 still has room, got %d", c.Evictions)
	}

	// One more distinct line into the same L1 set evicts the LRU way and
	// promotes the victim into L2, which must be counted against l1's kind.
	extra := uint64(L1Geometry.Ways) * stride
	seedLine(t, mem, extra, 99, 99, 99, 99)
	if _, err := Read(mem, extra, l1, l2, rec, kindL1, kindL2); err != nil {
		t.Fatal(err)
	}

	counts := rec.Snapshot()["test-eviction-l1"]
	if counts.Evictions != 1 {
		t.Fatalf("expected 1 eviction recorded against L1's kind, got %d", counts.Evictions)
	}
	if c := rec.Snapshot()["test-eviction-l2"]; c.Evictions != 0 {
		t.Fatalf("expected no L2 evictions yet (L2 still had room for the victim), got %d", c.Evictions)
	}
}

func TestAgesFormPermutationAfterFills(t *testing.T) {
	mem := memimage.New(1 << 20)
	l1 := New(L1Geometry)
	l2 := New(L2Geometry)
	stride := uint64(L1Geometry.Lines) * bytesPerLine
	for i := 0; i < L1Geometry.Ways; i++ {
		base := uint64(i) * stride
		seedLine(t, mem, base, uint32(i), 0, 0, 0)
		if _, err := Read(mem, base, l1, l2, nil, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	seen := make(map[uint8]bool)
	for _, e := range l1.sets[0] {
		if !e.Valid {
			t.Fatal("expected all ways of set 0 to be valid")
		}
		if seen[e.Age] {
			t.Fatalf("duplicate age %d in set 0", e.Age)
		}
		seen[e.Age] = true
	}
}
