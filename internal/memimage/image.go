// Package memimage models the flat byte buffer backing both page tables and
// data: the single memory region the page walker and cache hierarchy read
// and write through, in the style of the teacher's Bus/MemoryRegion pair.
package memimage

import (
	"encoding/binary"

	"github.com/tinyrange/memsim/internal/simerr"
)

// Image is a contiguous byte buffer. Its low region holds four levels of
// page tables (512 little-endian u32 entries each, spec.md §6); the rest is
// ordinary data.
type Image struct {
	data []byte
}

// New allocates a zeroed image of the given capacity.
func New(capacity int) *Image {
	return &Image{data: make([]byte, capacity)}
}

// Len reports the image's capacity in bytes.
func (m *Image) Len() int { return len(m.data) }

// Bytes exposes the backing slice directly, for the bootstrap loader.
func (m *Image) Bytes() []byte { return m.data }

func (m *Image) bounds(off uint64, n int) error {
	if off+uint64(n) > uint64(len(m.data)) {
		return simerr.New("memimage: out of bounds", simerr.BadParameter)
	}
	return nil
}

// ReadPTE reads the 32-bit little-endian page-table entry at byte offset
// off, per spec.md §3 ("Page-table entry").
func (m *Image) ReadPTE(off uint64) (uint32, error) {
	if err := m.bounds(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[off:]), nil
}

// ReadWord reads a little-endian 32-bit word at a physical byte offset.
func (m *Image) ReadWord(off uint64) (uint32, error) {
	if err := m.bounds(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[off:]), nil
}

// WriteWord writes a little-endian 32-bit word at a physical byte offset.
func (m *Image) WriteWord(off uint64, word uint32) error {
	if err := m.bounds(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[off:], word)
	return nil
}

// ReadByte reads a single byte at a physical byte offset.
func (m *Image) ReadByte(off uint64) (byte, error) {
	if err := m.bounds(off, 1); err != nil {
		return 0, err
	}
	return m.data[off], nil
}

// WriteByte writes a single byte at a physical byte offset.
func (m *Image) WriteByte(off uint64, b byte) error {
	if err := m.bounds(off, 1); err != nil {
		return err
	}
	m.data[off] = b
	return nil
}

// ReadLine reads n consecutive little-endian words starting at a
// line-aligned physical byte offset, for filling a cache line.
func (m *Image) ReadLine(off uint64, n int) ([]uint32, error) {
	if err := m.bounds(off, n*4); err != nil {
		return nil, err
	}
	line := make([]uint32, n)
	for i := range line {
		line[i] = binary.LittleEndian.Uint32(m.data[off+uint64(i*4):])
	}
	return line, nil
}

// WriteLine writes n consecutive little-endian words starting at a
// line-aligned physical byte offset, mirroring a dirty cache line back to
// memory.
func (m *Image) WriteLine(off uint64, line []uint32) error {
	if err := m.bounds(off, len(line)*4); err != nil {
		return err
	}
	for i, w := range line {
		binary.LittleEndian.PutUint32(m.data[off+uint64(i*4):], w)
	}
	return nil
}

// LoadAt copies src into the image starting at the given physical byte
// offset, used by the bootstrap loader for both physical- and
// virtual-addressed page loads.
func (m *Image) LoadAt(off uint64, src []byte) error {
	if err := m.bounds(off, len(src)); err != nil {
		return err
	}
	copy(m.data[off:], src)
	return nil
}
