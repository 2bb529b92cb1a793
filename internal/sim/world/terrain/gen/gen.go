// Package gen produces deterministic terrain for chunks that are not in the
// store yet.
package gen

import (
	"fmt"

	"github.com/google/uuid"

	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

type Biome string

const (
	Plains Biome = "PLAINS"
	Forest Biome = "FOREST"
	Desert Biome = "DESERT"
)

func BiomeFrom(noise uint64) Biome {
	switch noise % 3 {
	case 0:
		return Plains
	case 1:
		return Forest
	default:
		return Desert
	}
}

// BiomeAt picks a biome per region of regionSize chunks.
func BiomeAt(seed int64, cx, cz, regionSize int) Biome {
	if regionSize <= 0 {
		regionSize = 1
	}
	return BiomeFrom(Hash2(seed, FloorDiv(cx, regionSize), FloorDiv(cz, regionSize)))
}

var blockNamespace = uuid.MustParse("8d3b1c52-5f0e-4c8e-9a57-4b1f0a6d2e11")

// NamedBlock derives a stable identifier for a built-in block name.
func NamedBlock(name string) chunk.BlockID {
	return uuid.NewSHA1(blockNamespace, []byte(name))
}

// Palette is the set of blocks the generator places.
type Palette struct {
	Bedrock, Stone, Dirt, Grass, Sand, Water, Log, CoalOre chunk.BlockID
}

func DefaultPalette() Palette {
	return Palette{
		Bedrock: NamedBlock("BEDROCK"),
		Stone:   NamedBlock("STONE"),
		Dirt:    NamedBlock("DIRT"),
		Grass:   NamedBlock("GRASS"),
		Sand:    NamedBlock("SAND"),
		Water:   NamedBlock("WATER"),
		Log:     NamedBlock("LOG"),
		CoalOre: NamedBlock("COAL_ORE"),
	}
}

type Generator struct {
	Seed            int64
	SeaLevel        int
	MaxHeight       int
	BiomeRegionSize int
	Palette         Palette
}

func New(seed int64) *Generator {
	return &Generator{
		Seed:            seed,
		SeaLevel:        62,
		MaxHeight:       120,
		BiomeRegionSize: 4,
		Palette:         DefaultPalette(),
	}
}

// HeightAt is the surface y of world column (wx, wz).
func (g *Generator) HeightAt(wx, wz int) int {
	lo := g.SeaLevel - 20
	if lo < 1 {
		lo = 1
	}
	hi := g.MaxHeight
	if hi >= chunk.Height-8 {
		hi = chunk.Height - 8
	}
	if hi <= lo {
		return lo
	}
	broad := valueNoise(g.Seed, wx, wz, 64)
	fine := valueNoise(g.Seed+1, wx, wz, 16)
	n := (broad*3 + fine) / 4
	return lo + n*(hi-lo)/1000
}

// GenerateChunk builds the chunk at chunk coordinates (x, z). The same
// generator always yields equal chunks for the same coordinates.
func (g *Generator) GenerateChunk(x, z int) (*chunk.Chunk, error) {
	c := chunk.New(x, z)
	biome := BiomeAt(g.Seed, x, z, g.BiomeRegionSize)
	p := g.Palette

	surface, filler := p.Grass, p.Dirt
	if biome == Desert {
		surface, filler = p.Sand, p.Sand
	}

	var heights [chunk.Width][chunk.Width]int
	lowest, top := chunk.Height, 0
	for cz := 0; cz < chunk.Width; cz++ {
		for cx := 0; cx < chunk.Width; cx++ {
			h := g.HeightAt(x*chunk.Width+cx, z*chunk.Width+cz)
			heights[cz][cx] = h
			lowest = min(lowest, h)
			top = max(top, h)
		}
	}
	top = max(top, g.SeaLevel)

	if err := c.Fill(0, p.Bedrock); err != nil {
		return nil, err
	}
	// Layers well below every column are uniform apart from ore.
	solid := lowest - 4
	for y := 1; y < solid; y++ {
		if err := c.Fill(y, p.Stone); err != nil {
			return nil, err
		}
	}

	for y := max(solid, 1); y <= top; y++ {
		for cz := 0; cz < chunk.Width; cz++ {
			var cells [chunk.Width]chunk.BlockID
			for cx := 0; cx < chunk.Width; cx++ {
				h := heights[cz][cx]
				switch {
				case y < h-3:
					cells[cx] = p.Stone
				case y < h:
					cells[cx] = filler
				case y == h:
					if h < g.SeaLevel {
						cells[cx] = p.Sand
					} else {
						cells[cx] = surface
					}
				case y <= g.SeaLevel:
					cells[cx] = p.Water
				default:
					cells[cx] = chunk.Air
				}
			}
			if err := c.SetRowIDs(y, cz, &cells); err != nil {
				return nil, fmt.Errorf("gen: chunk (%d,%d) y=%d z=%d: %w", x, z, y, cz, err)
			}
		}
	}

	if err := g.placeOre(c); err != nil {
		return nil, err
	}
	if biome == Forest {
		if err := g.placeTrees(c, &heights); err != nil {
			return nil, err
		}
	}

	c.SetMeta("biome", chunk.StringValue(string(biome)))
	c.SetMeta("seed", chunk.IntValue(g.Seed))
	return c, nil
}

// placeOre scatters coal into stone on a coarse lattice so the pass stays
// cheap on full-size chunks.
func (g *Generator) placeOre(c *chunk.Chunk) error {
	for y := 4; y < g.SeaLevel-8; y += 4 {
		for z := 0; z < chunk.Width; z += 8 {
			for x := 0; x < chunk.Width; x += 8 {
				wx, wz := c.X()*chunk.Width+x, c.Z()*chunk.Width+z
				if Hash3(g.Seed+104, wx, y, wz)%1000 >= 40 {
					continue
				}
				if c.Block(x, y, z) != g.Palette.Stone {
					continue
				}
				if err := c.SetBlock(x, y, z, g.Palette.CoalOre); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *Generator) placeTrees(c *chunk.Chunk, heights *[chunk.Width][chunk.Width]int) error {
	for z := 2; z < chunk.Width-2; z += 12 {
		for x := 2; x < chunk.Width-2; x += 12 {
			h := heights[z][x]
			if h < g.SeaLevel || h+5 >= chunk.Height {
				continue
			}
			wx, wz := c.X()*chunk.Width+x, c.Z()*chunk.Width+z
			if Hash2(g.Seed+201, wx, wz)%1000 >= 300 {
				continue
			}
			for y := h + 1; y <= h+4; y++ {
				if err := c.SetBlock(x, y, z, g.Palette.Log); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
