// Package trace parses and runs the command trace format of spec.md §6:
// whitespace-separated records of the form `R I @0x...`, `R D {W|B} @0x...`,
// and `W D {W|B} 0xVVVVVVVV @0x...`, one per line.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/core"
	"github.com/tinyrange/memsim/internal/simerr"
)

// Order distinguishes a read from a write.
type Order int

const (
	Read Order = iota
	Write
)

// AccessKind distinguishes an instruction fetch from a data access.
type AccessKind int

const (
	Instruction AccessKind = iota
	Data
)

// Size distinguishes a word access from a byte access. Instruction fetches
// are always word-sized.
type Size int

const (
	Word Size = iota
	Byte
)

// Record is one parsed trace line.
type Record struct {
	Order   Order
	Kind    AccessKind
	Size    Size
	Value   uint32 // write payload; zero/unused for reads
	Address addr.Virtual
}

// Parse reads every record out of r, one per line, per spec.md §6's format.
func Parse(r io.Reader) ([]Record, error) {
	scan := bufio.NewScanner(r)
	var records []Record
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, simerr.Wrap(fmt.Sprintf("trace.Parse: line %d", lineNo), simerr.BadParameter, err)
		}
		records = append(records, rec)
	}
	if err := scan.Err(); err != nil {
		return nil, simerr.Wrap("trace.Parse", simerr.IO, err)
	}
	return records, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("too few fields: %q", line)
	}

	var rec Record
	switch fields[0] {
	case "R":
		rec.Order = Read
	case "W":
		rec.Order = Write
	default:
		return Record{}, fmt.Errorf("unknown order %q", fields[0])
	}

	rest := fields[1:]
	switch rest[0] {
	case "I":
		rec.Kind = Instruction
		rec.Size = Word
		rest = rest[1:]
	case "D":
		rec.Kind = Data
		rest = rest[1:]
		if len(rest) == 0 {
			return Record{}, fmt.Errorf("missing data size")
		}
		switch rest[0] {
		case "W":
			rec.Size = Word
		case "B":
			rec.Size = Byte
		default:
			return Record{}, fmt.Errorf("unknown data size %q", rest[0])
		}
		rest = rest[1:]
	default:
		return Record{}, fmt.Errorf("unknown kind %q", rest[0])
	}

	if rec.Order == Write {
		if len(rest) == 0 {
			return Record{}, fmt.Errorf("missing write value")
		}
		v, err := parseHex32(rest[0])
		if err != nil {
			return Record{}, fmt.Errorf("parse write value: %w", err)
		}
		rec.Value = v
		rest = rest[1:]
	}

	if len(rest) == 0 || !strings.HasPrefix(rest[0], "@") {
		return Record{}, fmt.Errorf("missing address field")
	}
	rawAddr, err := parseHex64(strings.TrimPrefix(rest[0], "@"))
	if err != nil {
		return Record{}, fmt.Errorf("parse address: %w", err)
	}
	v, err := addr.FromUint64(rawAddr)
	if err != nil {
		return Record{}, fmt.Errorf("decode virtual address: %w", err)
	}
	rec.Address = v

	return rec, nil
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func parseHex64(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// Run executes every record in order against sim, stopping at the first
// error. This is the entire trace-runner collaborator spec.md §1 names as
// out of scope for the core; it exists purely to drive core.Simulator from
// a file.
func Run(sim *core.Simulator, records []Record) error {
	for i, rec := range records {
		if err := runOne(sim, rec); err != nil {
			return simerr.Wrap(fmt.Sprintf("trace.Run: record %d", i), simerr.BadParameter, err)
		}
	}
	return nil
}

func runOne(sim *core.Simulator, rec Record) error {
	switch {
	case rec.Order == Read && rec.Kind == Instruction:
		_, err := sim.ReadInstruction(rec.Address)
		return err
	case rec.Order == Read && rec.Size == Word:
		_, err := sim.ReadWord(rec.Address)
		return err
	case rec.Order == Read && rec.Size == Byte:
		_, err := sim.ReadByte(rec.Address)
		return err
	case rec.Order == Write && rec.Size == Word:
		return sim.WriteWord(rec.Address, rec.Value)
	case rec.Order == Write && rec.Size == Byte:
		return sim.WriteByte(rec.Address, byte(rec.Value))
	default:
		return simerr.New("trace.Run: unhandled record shape", simerr.BadParameter)
	}
}
