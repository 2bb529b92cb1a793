package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"voxelstore.ai/internal/persistence/archive"
	flushlog "voxelstore.ai/internal/persistence/log"
	"voxelstore.ai/internal/persistence/snapshot"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
	"voxelstore.ai/internal/sim/world/terrain/gen"
	"voxelstore.ai/internal/sim/worldsource"
)

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	wf := addWorldFlags(fs)
	outPath := fs.String("out", "", "output snapshot path (optional)")
	doArchive := fs.Bool("archive", false, "also copy the snapshot into the world's archives/")
	_ = fs.Parse(args)

	st := wf.open(false, nil)
	defer st.Close()

	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(wf.worldDir(), "snapshots", time.Now().UTC().Format("20060102T150405Z")+".snap.zst")
	}
	snap, err := snapshot.Export(context.Background(), st, wf.id(), out)
	if err != nil {
		fatal("export", err)
	}
	fmt.Printf("export ok: world=%s chunks=%d palette=%d out=%s\n", snap.Header.WorldID, snap.Header.Chunks, len(snap.Palette), out)

	if *doArchive {
		dir, err := archive.ArchiveSnapshot(wf.worldDir(), out, snap)
		if err != nil {
			fatal("archive", err)
		}
		fmt.Printf("archived: %s\n", dir)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	wf := addWorldFlags(fs)
	inPath := fs.String("in", "", "snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*inPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	st := wf.open(true, newLogger())
	defer st.Close()

	snap, n, err := snapshot.Import(context.Background(), st, *inPath)
	if err != nil {
		fatal("import", err)
	}
	fmt.Printf("import ok: world=%s chunks=%d/%d info=%d db=%s\n", snap.Header.WorldID, n, len(snap.Chunks), len(snap.WorldInfo), st.Path())
}

func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	wf := addWorldFlags(fs)
	inPath := fs.String("in", "", "snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*inPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*inPath)
	if err != nil {
		fatal("read snapshot", err)
	}
	dir, err := archive.ArchiveSnapshot(wf.worldDir(), *inPath, snap)
	if err != nil {
		fatal("archive", err)
	}
	fmt.Printf("archived: world=%s chunks=%d dir=%s\n", snap.Header.WorldID, snap.Header.Chunks, dir)
}

// genCmd loads every chunk within -radius of the origin through a World
// Source, so missing chunks are generated and written back by the frame loop.
func genCmd(args []string) {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	wf := addWorldFlags(fs)
	radius := fs.Int("radius", 1, "chunk radius around (0,0)")
	seed := fs.Int64("seed", 0, "terrain seed (optional; defaults to tuning)")
	_ = fs.Parse(args)

	logger := newLogger()
	tu := wf.loadTuning()
	st := wf.open(true, logger)
	defer st.Close()

	g := gen.New(tu.Generator.Seed)
	if *seed != 0 {
		g.Seed = *seed
	}
	g.SeaLevel = tu.Generator.SeaLevel
	g.MaxHeight = tu.Generator.MaxHeight
	g.BiomeRegionSize = tu.Generator.BiomeRegionSize

	journal := flushlog.NewFlushLogger(wf.worldDir())
	defer journal.Close()

	start := time.Now()
	cfg := tu.SourceConfig(journal, logger)
	cfg.PersistGenerated = true
	src := worldsource.New(st, stampedGenerator{g: g, at: start.Unix()}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() { _ = src.Run(ctx, tu.FrameInterval()) }()

	if err := loadArea(ctx, src, *radius); err != nil {
		_ = src.Close()
		fatal("gen", err)
	}
	stop()
	if err := src.Close(); err != nil {
		fatal("flush", err)
	}
	s := src.Stats()
	fmt.Printf("gen ok: radius=%d seed=%d loads=%d generated=%d store_hits=%d writes=%d failures=%d took=%s\n",
		*radius, g.Seed, s.LoadsTotal, s.Generated, s.StoreHits, s.WritesTotal, s.WriteFailures, time.Since(start).Round(time.Millisecond))
}

// stampedGenerator marks chunks it produces with generated_at, so chunks
// that came from the store are never touched.
type stampedGenerator struct {
	g  worldsource.Generator
	at int64
}

func (s stampedGenerator) GenerateChunk(x, z int) (*chunk.Chunk, error) {
	c, err := s.g.GenerateChunk(x, z)
	if err != nil {
		return nil, err
	}
	c.SetMeta("generated_at", chunk.IntValue(s.at))
	return c, nil
}

// loadArea loads every chunk within radius of the origin through src.
func loadArea(ctx context.Context, src *worldsource.Source, radius int) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for x := -radius; x <= radius; x++ {
		for z := -radius; z <= radius; z++ {
			x, z := x, z
			eg.Go(func() error {
				if _, err := src.GetChunk(x, z).WaitContext(ctx); err != nil {
					return fmt.Errorf("chunk (%d,%d): %w", x, z, err)
				}
				return nil
			})
		}
	}
	return eg.Wait()
}
