// Package bootstrap loads a memory description file (spec.md §6) into a
// memimage.Image: a page-directory dump at offset 0, a set of
// physical-addressed page loads, and a set of virtual-addressed page loads
// resolved through a page walk. It is an external collaborator to the core
// simulator, not part of it (spec.md §1 lists image bootstrapping as
// out of scope for the core, but SPEC_FULL.md's ambient stack still needs a
// concrete loader to hand a Simulator a populated Image).
package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/memsim/internal/addr"
	"github.com/tinyrange/memsim/internal/memimage"
	"github.com/tinyrange/memsim/internal/pagewalk"
	"github.com/tinyrange/memsim/internal/simerr"
)

// pageEntry is one physical- or virtual-addressed page load.
type pageEntry struct {
	addr uint64 // physical byte offset, or raw virtual address for virt pages
	path string
}

// Descriptor is a parsed memory description file.
type Descriptor struct {
	Capacity   int
	PageDirDir string // path to the page-directory dump, loaded at offset 0
	Physical   []pageEntry
	Virtual    []pageEntry
}

// ParseDescriptor reads the memory description format of spec.md §6:
//
//	<capacity_in_bytes>
//	<path_to_page_directory_dump>
//	<n_physical_pages>
//	<phys_addr_hex> <path>
//	... (n_physical_pages lines) ...
//	<virt_addr_hex> <path>   // repeated until EOF
func ParseDescriptor(r io.Reader) (Descriptor, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := func(what string) (string, error) {
		if !scan.Scan() {
			if err := scan.Err(); err != nil {
				return "", simerr.Wrap("bootstrap.ParseDescriptor", simerr.IO, err)
			}
			return "", simerr.New(fmt.Sprintf("bootstrap.ParseDescriptor: missing %s", what), simerr.BadParameter)
		}
		return strings.TrimSpace(scan.Text()), nil
	}

	capLine, err := line("capacity")
	if err != nil {
		return Descriptor{}, err
	}
	capacity, err := strconv.Atoi(capLine)
	if err != nil {
		return Descriptor{}, simerr.Wrap("bootstrap.ParseDescriptor", simerr.BadParameter, err)
	}

	pageDirDir, err := line("page directory path")
	if err != nil {
		return Descriptor{}, err
	}

	countLine, err := line("physical page count")
	if err != nil {
		return Descriptor{}, err
	}
	count, err := strconv.Atoi(countLine)
	if err != nil {
		return Descriptor{}, simerr.Wrap("bootstrap.ParseDescriptor", simerr.BadParameter, err)
	}

	desc := Descriptor{Capacity: capacity, PageDirDir: pageDirDir}

	for i := 0; i < count; i++ {
		l, err := line("physical page entry")
		if err != nil {
			return Descriptor{}, err
		}
		entry, err := parsePageLine(l)
		if err != nil {
			return Descriptor{}, err
		}
		desc.Physical = append(desc.Physical, entry)
	}

	for scan.Scan() {
		l := strings.TrimSpace(scan.Text())
		if l == "" {
			continue
		}
		entry, err := parsePageLine(l)
		if err != nil {
			return Descriptor{}, err
		}
		desc.Virtual = append(desc.Virtual, entry)
	}
	if err := scan.Err(); err != nil {
		return Descriptor{}, simerr.Wrap("bootstrap.ParseDescriptor", simerr.IO, err)
	}

	return desc, nil
}

func parsePageLine(l string) (pageEntry, error) {
	fields := strings.Fields(l)
	if len(fields) != 2 {
		return pageEntry{}, simerr.New("bootstrap.ParseDescriptor: malformed page entry", simerr.BadParameter)
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(fields[0], "0x"), "0X")
	a, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return pageEntry{}, simerr.Wrap("bootstrap.ParseDescriptor", simerr.BadParameter, err)
	}
	return pageEntry{addr: a, path: fields[1]}, nil
}

// Load builds a memimage.Image from a Descriptor: the page-directory dump
// is read first (synchronously, since every later phase depends on it),
// then physical pages load concurrently (phase 1), then virtual pages load
// concurrently (phase 2) — phase 2 must wait for phase 1 because resolving
// a virtual page's destination requires walking page tables that phase 1
// may still be populating. Concurrency is bounded by GOMAXPROCS via
// errgroup.SetLimit, the same bounded-worker-pool pattern the teacher uses
// golang.org/x/sync for. This loader-internal concurrency never leaks into
// core.Simulator, which remains strictly single-threaded (spec.md §5).
func Load(ctx context.Context, desc Descriptor) (*memimage.Image, error) {
	img := memimage.New(desc.Capacity)

	if err := loadFileInto(img, 0, desc.PageDirDir); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for _, e := range desc.Physical {
		e := e
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return loadFileInto(img, e.addr, e.path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, simerr.Wrap("bootstrap.Load", simerr.IO, err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for _, e := range desc.Virtual {
		e := e
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			v, err := addr.FromUint64(e.addr)
			if err != nil {
				return err
			}
			p, err := pagewalk.Walk(img, v)
			if err != nil {
				return err
			}
			return loadFileInto(img, uint64(p.Uint32()&^0xFFF), e.path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, simerr.Wrap("bootstrap.Load", simerr.IO, err)
	}

	return img, nil
}

func loadFileInto(img *memimage.Image, off uint64, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return simerr.Wrap("bootstrap.Load", simerr.IO, err)
	}
	return img.LoadAt(off, data)
}
