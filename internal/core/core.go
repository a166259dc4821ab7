// Package core ties the address codec, page walker, TLB hierarchy, and
// cache hierarchy together into the single entry point a trace runner or
// CLI front end drives: a Simulator.
package core

import (
	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/cache"
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/simstat"
	"github.com/tinyrange/memsim/internal/tlb"
)

// Stat kinds registered once at package init so every Simulator shares the
// same stable Kind ids for its counters.
var (
	KindL1I    = simstat.RegisterKind("l1i")
	KindL1D    = simstat.RegisterKind("l1d")
	KindL2     = simstat.RegisterKind("l2")
	KindTLBL1I = simstat.RegisterKind("tlb-l1i")
	KindTLBL1D = simstat.RegisterKind("tlb-l1d")
	KindTLBL2  = simstat.RegisterKind("tlb-l2")
)

// Simulator is the single-threaded, synchronous memory hierarchy of
// spec.md §5: one memory image, one TLB hierarchy, and the three caches
// (L1-I, L1-D, L2), all owned exclusively by this value — callers must
// serialise concurrent use externally, per spec.md's concurrency model.
type Simulator struct {
	Mem *memimage.Image
	TLB *tlb.Hierarchy
	L1I *cache.Cache
	L1D *cache.Cache
	L2  *cache.Cache

	Stats *simstat.Recorder
}

// New builds a Simulator over an already-populated memory image, with fresh
// (all-invalid) TLB and cache state.
func New(mem *memimage.Image) *Simulator {
	return &Simulator{
		Mem:   mem,
		TLB:   &tlb.Hierarchy{},
		L1I:   cache.New(cache.L1Geometry),
		L1D:   cache.New(cache.L1Geometry),
		L2:    cache.New(cache.L2Geometry),
		Stats: simstat.NewRecorder(),
	}
}

func (s *Simulator) translate(v addr.Virtual, access tlb.Access) (addr.Physical, error) {
	p, hit, err := s.TLB.Search(s.Mem, v, access, s.Stats, KindTLBL1I, KindTLBL1D)
	if err != nil {
		return addr.Physical{}, err
	}
	tlbKind := KindTLBL1D
	if access == tlb.Instruction {
		tlbKind = KindTLBL1I
	}
	if hit {
		s.Stats.Record(tlbKind, simstat.Hit)
	} else {
		s.Stats.Record(tlbKind, simstat.Miss)
	}
	return p, nil
}

// ReadInstruction fetches the 32-bit instruction word at the given virtual
// address, through the instruction TLB and L1-I/L2 caches.
func (s *Simulator) ReadInstruction(v addr.Virtual) (uint32, error) {
	p, err := s.translate(v, tlb.Instruction)
	if err != nil {
		return 0, err
	}
	return cache.Read(s.Mem, uint64(p.Uint32()), s.L1I, s.L2, s.Stats, KindL1I, KindL2)
}

// ReadWord reads a data word at the given virtual address.
func (s *Simulator) ReadWord(v addr.Virtual) (uint32, error) {
	p, err := s.translate(v, tlb.Data)
	if err != nil {
		return 0, err
	}
	return cache.Read(s.Mem, uint64(p.Uint32()), s.L1D, s.L2, s.Stats, KindL1D, KindL2)
}

// WriteWord writes a data word at the given virtual address.
func (s *Simulator) WriteWord(v addr.Virtual, word uint32) error {
	p, err := s.translate(v, tlb.Data)
	if err != nil {
		return err
	}
	return cache.Write(s.Mem, uint64(p.Uint32()), s.L1D, s.L2, word, s.Stats, KindL1D, KindL2)
}

// ReadByte reads a data byte at the given virtual address.
func (s *Simulator) ReadByte(v addr.Virtual) (byte, error) {
	p, err := s.translate(v, tlb.Data)
	if err != nil {
		return 0, err
	}
	return cache.ReadByte(s.Mem, uint64(p.Uint32()), s.L1D, s.L2, s.Stats, KindL1D, KindL2)
}

// WriteByte writes a data byte at the given virtual address.
func (s *Simulator) WriteByte(v addr.Virtual, value byte) error {
	p, err := s.translate(v, tlb.Data)
	if err != nil {
		return err
	}
	return cache.WriteByte(s.Mem, uint64(p.Uint32()), s.L1D, s.L2, value, s.Stats, KindL1D, KindL2)
}

// Flush invalidates every cache and TLB, leaving the memory image untouched.
func (s *Simulator) Flush() {
	s.L1I.Flush()
	s.L1D.Flush()
	s.L2.Flush()
	s.TLB.Flush(tlb.L1I)
	s.TLB.Flush(tlb.L1D)
	s.TLB.Flush(tlb.L2)
}
