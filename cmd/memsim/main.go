// Command memsim runs a command trace against the memory hierarchy
// simulator: it loads a memory image from a description file, replays a
// trace of reads/writes through a core.Simulator, and optionally dumps
// cache/TLB state and writes a binary event-statistics log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/memsim/internal/bootstrap"
	"github.com/tinyrange/memsim/internal/cache"
	"github.com/tinyrange/memsim/internal/core"
	"github.com/tinyrange/memsim/internal/dump"
	"github.com/tinyrange/memsim/internal/simerr"
	"github.com/tinyrange/memsim/internal/simstat"
	"github.com/tinyrange/memsim/internal/tlb"
	"github.com/tinyrange/memsim/internal/trace"
)

// config is the optional YAML file accepted via -config. It can only
// select among the policies this implementation actually has (both fixed
// at LRU/two-level by spec.md) — it is additive, never a relaxation of the
// spec-mandated cache/TLB geometries.
type config struct {
	CachePolicy string `yaml:"cache_policy"`
	TLBVariant  string `yaml:"tlb_variant"`
}

func loadConfig(path string) (config, error) {
	cfg := config{CachePolicy: "lru", TLBVariant: "two-level"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, simerr.Wrap("main.loadConfig", simerr.IO, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, simerr.Wrap("main.loadConfig", simerr.BadParameter, err)
	}
	if cfg.CachePolicy != "lru" {
		return cfg, simerr.New(fmt.Sprintf("main.loadConfig: unsupported cache_policy %q", cfg.CachePolicy), simerr.Policy)
	}
	if cfg.TLBVariant != "two-level" {
		return cfg, simerr.New(fmt.Sprintf("main.loadConfig: unsupported tlb_variant %q", cfg.TLBVariant), simerr.Policy)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		var simErr *simerr.Error
		if errors.As(err, &simErr) {
			fmt.Fprintf(os.Stderr, "memsim: %v\n", simErr)
			os.Exit(simerr.ExitCode(simErr.Code))
		}
		fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	imagePath := flag.String("image", "", "Path to a memory description file")
	tracePath := flag.String("trace", "", "Path to a command trace file")
	configPath := flag.String("config", "", "Path to an optional YAML policy config")
	statsOut := flag.String("stats-out", "", "Write a binary event-statistics log to this path")
	dumpCache := flag.Bool("dump-cache", false, "Dump final cache state to stdout")
	dumpTLB := flag.Bool("dump-tlb", false, "Dump final TLB state to stdout")
	debugLog := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -image <desc> -trace <trace> [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debugLog {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *imagePath == "" || *tracePath == "" {
		flag.Usage()
		return simerr.New("main.run: -image and -trace are required", simerr.BadParameter)
	}

	if _, err := loadConfig(*configPath); err != nil {
		return err
	}

	descFile, err := os.Open(*imagePath)
	if err != nil {
		return simerr.Wrap("main.run", simerr.IO, err)
	}
	defer descFile.Close()

	desc, err := bootstrap.ParseDescriptor(descFile)
	if err != nil {
		return err
	}

	slog.Debug("loading memory image", "capacity", desc.Capacity, "physical_pages", len(desc.Physical), "virtual_pages", len(desc.Virtual))

	var bar *progressbar.ProgressBar
	totalPages := len(desc.Physical) + len(desc.Virtual)
	if totalPages > 64 && term.IsTerminal(int(os.Stdout.Fd())) {
		bar = progressbar.Default(int64(totalPages), "loading pages")
	}

	img, err := bootstrap.Load(context.Background(), desc)
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Add(totalPages)
	}

	traceFile, err := os.Open(*tracePath)
	if err != nil {
		return simerr.Wrap("main.run", simerr.IO, err)
	}
	defer traceFile.Close()

	records, err := trace.Parse(traceFile)
	if err != nil {
		return err
	}

	slog.Debug("running trace", "records", len(records), "gomaxprocs", runtime.GOMAXPROCS(0))

	sim := core.New(img)

	var statsFile *os.File
	if *statsOut != "" {
		statsFile, err = os.Create(*statsOut)
		if err != nil {
			return simerr.Wrap("main.run", simerr.IO, err)
		}
		defer statsFile.Close()
		if err := sim.Stats.OpenLog(statsFile); err != nil {
			return err
		}
	}

	if err := trace.Run(sim, records); err != nil {
		return err
	}

	if statsFile != nil {
		if err := sim.Stats.CloseLog(); err != nil {
			return simerr.Wrap("main.run", simerr.IO, err)
		}
	}

	printSnapshot(sim.Stats)

	if *dumpCache {
		dumpCaches(sim)
	}
	if *dumpTLB {
		dumpTLBs(sim)
	}

	return nil
}

func printSnapshot(rec *simstat.Recorder) {
	for name, c := range rec.Snapshot() {
		slog.Info("stats", "kind", name, "hits", c.Hits, "misses", c.Misses, "evictions", c.Evictions, "cross_invalidations", c.CrossInvalidations)
	}
}

func dumpCaches(sim *core.Simulator) {
	w := dump.NewWriter(os.Stdout)
	for _, named := range []struct {
		name string
		c    *cache.Cache
	}{
		{"l1i", sim.L1I},
		{"l1d", sim.L1D},
		{"l2", sim.L2},
	} {
		for i := 0; i < named.c.Geometry().Lines; i++ {
			w.CacheSet(named.c, i, named.name)
		}
	}
}

func dumpTLBs(sim *core.Simulator) {
	w := dump.NewWriter(os.Stdout)
	for _, named := range []struct {
		kind  tlb.Kind
		lines int
	}{
		{tlb.L1I, tlb.L1Lines},
		{tlb.L1D, tlb.L1Lines},
		{tlb.L2, tlb.L2Lines},
	} {
		for i := 0; i < named.lines; i++ {
			w.TLBLine(sim.TLB, named.kind, uint32(i))
		}
	}
}
