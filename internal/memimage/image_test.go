package memimage

import "testing"

func TestWordRoundTrip(t *testing.T) {
	m := New(64)
	if err := m.WriteWord(8, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	word, err := m.ReadWord(8)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0xDEADBEEF {
		t.Fatalf("expected 0xDEADBEEF, got %#x", word)
	}
	pte, err := m.ReadPTE(8)
	if err != nil {
		t.Fatal(err)
	}
	if pte != word {
		t.Fatalf("ReadPTE and ReadWord disagree: %#x vs %#x", pte, word)
	}
}

func TestByteRoundTrip(t *testing.T) {
	m := New(16)
	if err := m.WriteByte(3, 0xAB); err != nil {
		t.Fatal(err)
	}
	b, err := m.ReadByte(3)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0xAB {
		t.Fatalf("expected 0xAB, got %#x", b)
	}
	// Neighbouring bytes must be untouched.
	if b2, err := m.ReadByte(2); err != nil || b2 != 0 {
		t.Fatalf("expected neighbour byte 2 to remain zero, got %#x (err %v)", b2, err)
	}
	if b4, err := m.ReadByte(4); err != nil || b4 != 0 {
		t.Fatalf("expected neighbour byte 4 to remain zero, got %#x (err %v)", b4, err)
	}
}

func TestLineRoundTrip(t *testing.T) {
	m := New(64)
	want := []uint32{1, 2, 3, 4}
	if err := m.WriteLine(16, want); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadLine(16, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestLoadAtCopiesIntoPlace(t *testing.T) {
	m := New(32)
	src := []byte{1, 2, 3, 4, 5}
	if err := m.LoadAt(10, src); err != nil {
		t.Fatal(err)
	}
	for i, b := range src {
		got, err := m.ReadByte(uint64(10 + i))
		if err != nil {
			t.Fatal(err)
		}
		if got != b {
			t.Fatalf("byte %d: expected %d, got %d", i, b, got)
		}
	}
}

func TestOutOfBoundsAccessesFail(t *testing.T) {
	m := New(8)
	if _, err := m.ReadWord(8); err == nil {
		t.Fatal("expected out-of-bounds ReadWord to fail")
	}
	if err := m.WriteWord(5, 1); err == nil {
		t.Fatal("expected an unaligned-but-out-of-bounds WriteWord to fail")
	}
	if _, err := m.ReadByte(100); err == nil {
		t.Fatal("expected out-of-bounds ReadByte to fail")
	}
	if err := m.LoadAt(4, make([]byte, 8)); err == nil {
		t.Fatal("expected an over-running LoadAt to fail")
	}
}

func TestLen(t *testing.T) {
	m := New(128)
	if m.Len() != 128 {
		t.Fatalf("expected Len() == 128, got %d", m.Len())
	}
}
