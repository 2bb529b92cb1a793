package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	wf := addWorldFlags(fs)
	_ = fs.Parse(args)

	st := wf.open(false, nil)
	defer st.Close()

	ext, err := st.WorldExtents().Wait()
	if err != nil {
		fatal("extents", err)
	}
	keys, err := st.ListChunks().Wait()
	if err != nil {
		fatal("list", err)
	}
	size, err := st.DBSize().Wait()
	if err != nil {
		fatal("size", err)
	}
	names, err := st.WorldInfoKeys().Wait()
	if err != nil {
		fatal("world info", err)
	}
	info := map[string]string{}
	for _, name := range names {
		v, err := st.GetWorldInfo(name).Wait()
		if err != nil {
			fatal("world info", err)
		}
		info[name] = string(v.Data)
	}
	stats := st.Stats()

	var r struct {
		Path      string            `json:"path"`
		Bytes     int64             `json:"bytes"`
		Chunks    int               `json:"chunks"`
		Extents   *worlddb.Extents  `json:"extents,omitempty"`
		GlobalIDs int64             `json:"global_ids"`
		Players   int64             `json:"players"`
		WorldInfo map[string]string `json:"world_info,omitempty"`
	}
	r.Path = st.Path()
	r.Bytes = size
	r.Chunks = len(keys)
	if !ext.Empty {
		r.Extents = &ext
	}
	r.GlobalIDs = stats.GlobalIDs
	r.Players = stats.Players
	r.WorldInfo = info
	printJSON(r)
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	wf := addWorldFlags(fs)
	x := fs.Int("x", 0, "chunk x")
	z := fs.Int("z", 0, "chunk z")
	del := fs.Bool("delete", false, "delete the chunk instead of describing it")
	_ = fs.Parse(args)

	st := wf.open(false, nil)
	defer st.Close()

	if *del {
		ok, err := st.DeleteChunk(*x, *z).Wait()
		if err != nil {
			fatal("delete", err)
		}
		fmt.Printf("delete chunk (%d,%d): deleted=%v\n", *x, *z, ok)
		return
	}

	c, err := st.GetChunk(*x, *z).Wait()
	if errors.Is(err, worlddb.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "chunk (%d,%d) not found\n", *x, *z)
		os.Exit(2)
	}
	if err != nil {
		fatal("get chunk", err)
	}
	printJSON(describeChunk(c))
}

type chunkSummary struct {
	X        int               `json:"x"`
	Z        int               `json:"z"`
	Slices   int               `json:"slices"`
	RowMaps  int               `json:"row_maps"`
	Sparse   int               `json:"sparse_rows"`
	Dense    int               `json:"dense_rows"`
	Blocks   map[string]int    `json:"blocks"`
	Meta     map[string]string `json:"meta,omitempty"`
	MetaYs   []int             `json:"block_meta_layers,omitempty"`
	TopLayer int               `json:"top_layer"`
}

func describeChunk(c *chunk.Chunk) chunkSummary {
	r := chunkSummary{
		X:        c.X(),
		Z:        c.Z(),
		Slices:   c.SliceCount(),
		RowMaps:  c.RowMapCount(),
		Blocks:   map[string]int{},
		Meta:     map[string]string{},
		MetaYs:   c.BlockMetaLayers(),
		TopLayer: -1,
	}
	maps := c.RowMaps()
	for y := 0; y < chunk.Height; y++ {
		s := c.Slice(y)
		if s == nil {
			continue
		}
		r.TopLayer = y
		for z := 0; z < chunk.Width; z++ {
			row := s.Row(z)
			if row == nil {
				r.Blocks[chunk.Air.String()] += chunk.Width
				continue
			}
			if row.Kind() == chunk.RowSparse {
				r.Sparse++
			} else {
				r.Dense++
			}
			m := maps[row.TypeMap()]
			codes := row.Codes()
			for _, code := range codes {
				r.Blocks[m.Lookup(code).String()]++
			}
		}
	}
	for k, v := range c.MetaEntries() {
		r.Meta[k] = v.String()
	}
	return r
}
