// Package simstat counts and optionally traces cache/TLB events, adapting
// the registered-kind-plus-binary-log pattern of tinyrange-cc's
// internal/timeslice package from duration recording to event counting.
package simstat

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Magic and Version identify the binary event log format on disk.
const (
	Magic   uint32 = 0x53544d53 // "SMTS"
	Version uint32 = 1
)

// Kind identifies a countable event source, e.g. "l1d", "l1i", "l2", "tlb-l1i".
type Kind uint32

var (
	kindNames  = make(map[Kind]string)
	kindByName = make(map[string]Kind)
	nextKind   Kind = 1
)

// RegisterKind assigns a stable Kind id to name, or returns the existing one
// if name was already registered. Not safe for concurrent use; call during
// package init or single-threaded setup, mirroring timeslice.RegisterKind.
func RegisterKind(name string) Kind {
	if k, ok := kindByName[name]; ok {
		return k
	}
	k := nextKind
	nextKind++
	kindNames[k] = name
	kindByName[name] = k
	return k
}

// Event enumerates what happened to a Kind.
type Event uint8

const (
	Hit Event = iota
	Miss
	Evict
	CrossInvalidate
)

func (e Event) String() string {
	switch e {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Evict:
		return "evict"
	case CrossInvalidate:
		return "cross-invalidate"
	default:
		return "unknown"
	}
}

// Counts tallies each Event for one Kind.
type Counts struct {
	Hits, Misses, Evictions, CrossInvalidations uint64
}

// Recorder tallies events per Kind and, when opened onto a writer, appends a
// binary-framed log entry per event. Like timeslice.Recorder, it is not
// thread safe: one Recorder per simulator instance, used from a single
// trace-running goroutine.
type Recorder struct {
	counts map[Kind]*Counts
	log    *logWriter
}

// NewRecorder builds an idle recorder (no log attached).
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[Kind]*Counts)}
}

func (r *Recorder) countsFor(k Kind) *Counts {
	c, ok := r.counts[k]
	if !ok {
		c = &Counts{}
		r.counts[k] = c
	}
	return c
}

// Record tallies one occurrence of event for kind, and appends it to the
// attached log writer if one is open.
func (r *Recorder) Record(kind Kind, event Event) {
	c := r.countsFor(kind)
	switch event {
	case Hit:
		c.Hits++
	case Miss:
		c.Misses++
	case Evict:
		c.Evictions++
	case CrossInvalidate:
		c.CrossInvalidations++
	}
	if r.log != nil {
		r.log.write(kind, event)
	}
}

// Snapshot returns a copy of the current per-kind tallies, keyed by
// registered name.
func (r *Recorder) Snapshot() map[string]Counts {
	out := make(map[string]Counts, len(r.counts))
	for k, c := range r.counts {
		out[kindNames[k]] = *c
	}
	return out
}

type logRecord struct {
	Kind  uint32
	Event uint8
	_pad  [3]byte
}

var logRecordSize = binary.Size(logRecord{})

type logWriter struct {
	w   *bufio.Writer
	buf []byte
}

func (l *logWriter) write(kind Kind, event Event) {
	off := len(l.buf)
	l.buf = append(l.buf, make([]byte, logRecordSize)...)
	binary.LittleEndian.PutUint32(l.buf[off:off+4], uint32(kind))
	l.buf[off+4] = byte(event)
}

func (l *logWriter) flush() error {
	if _, err := l.w.Write(l.buf); err != nil {
		return err
	}
	l.buf = l.buf[:0]
	return l.w.Flush()
}

// OpenLog attaches a binary event log to the recorder: every subsequent
// Record call is appended as a fixed-size frame after a header naming the
// registered kinds, mirroring timeslice.Open's header-then-records layout.
func (r *Recorder) OpenLog(w io.Writer) error {
	names, err := json.Marshal(kindNames)
	if err != nil {
		return fmt.Errorf("simstat: marshal kinds: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, struct {
		Magic, Version, NamesLen uint32
	}{Magic, Version, uint32(len(names))}); err != nil {
		return fmt.Errorf("simstat: write header: %w", err)
	}
	if _, err := w.Write(names); err != nil {
		return fmt.Errorf("simstat: write kind names: %w", err)
	}
	r.log = &logWriter{w: bufio.NewWriter(w)}
	return nil
}

// CloseLog flushes any buffered log frames. A no-op if no log is open.
func (r *Recorder) CloseLog() error {
	if r.log == nil {
		return nil
	}
	return r.log.flush()
}

// ReadLog decodes a log written by OpenLog, invoking fn for each frame in
// order with the kind's registered name.
func ReadLog(r io.Reader, fn func(kindName string, event Event) error) error {
	buf := bufio.NewReader(r)

	var header struct {
		Magic, Version, NamesLen uint32
	}
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return err
	}
	if header.Magic != Magic {
		return fmt.Errorf("simstat: invalid magic")
	}
	if header.Version != Version {
		return fmt.Errorf("simstat: invalid version")
	}

	var names map[Kind]string
	dec := json.NewDecoder(io.LimitReader(buf, int64(header.NamesLen)))
	if err := dec.Decode(&names); err != nil {
		return err
	}

	for {
		var rec logRecord
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		name, ok := names[Kind(rec.Kind)]
		if !ok {
			return fmt.Errorf("simstat: unknown kind: %d", rec.Kind)
		}
		if err := fn(name, Event(rec.Event)); err != nil {
			return err
		}
	}
	return nil
}
