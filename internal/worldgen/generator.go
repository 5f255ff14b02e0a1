// Package worldgen fills chunks with deterministic terrain.
package worldgen

import (
	"fmt"

	"voxelstream.ai/internal/chunks"
)

type Config struct {
	Seed            int64
	SeaLevel        int // world y of the average surface
	HeightRange     int // surface varies by +-HeightRange/2
	NoiseGrid       int
	BiomeRegionSize int
	OrePermille     int
	TorchPermille   int // per surface column, out of 1000
	ChestPermille   int // per chunk, out of 1000
}

func DefaultConfig() Config {
	return Config{
		Seed:            1337,
		SeaLevel:        32,
		HeightRange:     24,
		NoiseGrid:       24,
		BiomeRegionSize: 64,
		OrePermille:     12,
		TorchPermille:   2,
		ChestPermille:   150,
	}
}

type palette struct {
	stone, dirt, grass, sand, coal, iron, torch, chest uint16
}

// Generator is safe for concurrent use.
type Generator struct {
	cfg Config
	pal palette
}

// New resolves the block names the generator places. Missing names are a
// configuration error.
func New(cfg Config, reg *chunks.Registry) (*Generator, error) {
	if cfg.NoiseGrid <= 0 {
		cfg.NoiseGrid = 24
	}
	names := []string{"stone", "dirt", "grass", "sand", "coal_ore", "iron_ore", "torch", "chest"}
	ids := make([]uint16, len(names))
	for i, n := range names {
		id, ok := reg.ID(n)
		if !ok {
			return nil, fmt.Errorf("worldgen: block %q missing from palette", n)
		}
		ids[i] = id
	}
	return &Generator{cfg: cfg, pal: palette{
		stone: ids[0], dirt: ids[1], grass: ids[2], sand: ids[3],
		coal: ids[4], iron: ids[5], torch: ids[6], chest: ids[7],
	}}, nil
}

// SurfaceAt is the world y of the topmost solid block in column (x,z).
func (g *Generator) SurfaceAt(x, z int) int {
	n := valueNoise2(g.cfg.Seed, x, z, g.cfg.NoiseGrid)
	return g.cfg.SeaLevel + int(n*float64(g.cfg.HeightRange)) - g.cfg.HeightRange/2
}

// Generate writes terrain into c and returns the entities to spawn with it.
func (g *Generator) Generate(c *chunks.Chunk) ([]chunks.EntityStub, error) {
	origin := c.Pos().Origin()
	var stubs []chunks.EntityStub
	c.Edit(func(e *chunks.Editor) {
		for x := range chunks.SizeX {
			for z := range chunks.SizeZ {
				wx, wz := origin.X+x, origin.Z+z
				surface := g.SurfaceAt(wx, wz)
				biome := biomeAt(g.cfg.Seed, wx, wz, g.cfg.BiomeRegionSize)
				for y := range chunks.SizeY {
					wy := origin.Y + y
					if wy > surface {
						break
					}
					e.SetBlock(chunks.Index(x, y, z), g.blockAt(biome, wx, wy, wz, surface))
				}
				ty := surface + 1 - origin.Y
				if ty >= 0 && ty < chunks.SizeY && hash2(g.cfg.Seed+77, wx, wz)%1000 < uint64(clampPermille(g.cfg.TorchPermille)) {
					e.SetBlock(chunks.Index(x, ty, z), g.pal.torch)
				}
			}
		}
	})

	cp := c.Pos()
	if hash3(g.cfg.Seed+91, cp.X, cp.Y, cp.Z)%1000 < uint64(clampPermille(g.cfg.ChestPermille)) {
		h := hash3(g.cfg.Seed+92, cp.X, cp.Y, cp.Z)
		x, z := int(h%chunks.SizeX), int((h>>8)%chunks.SizeZ)
		wx, wz := origin.X+x, origin.Z+z
		wy := g.SurfaceAt(wx, wz) + 1
		if ly := wy - origin.Y; ly >= 0 && ly < chunks.SizeY {
			c.SetBlock(x, ly, z, g.pal.chest)
			stubs = append(stubs, chunks.EntityStub{
				Prefab: "chest",
				Pos:    chunks.Vec3i{X: wx, Y: wy, Z: wz},
				Fields: map[string]string{"biome": biomeAt(g.cfg.Seed, wx, wz, g.cfg.BiomeRegionSize)},
			})
		}
	}
	return stubs, nil
}

func (g *Generator) blockAt(biome string, wx, wy, wz, surface int) uint16 {
	depth := surface - wy
	switch {
	case depth == 0:
		if biome == "DESERT" {
			return g.pal.sand
		}
		return g.pal.grass
	case depth < 4:
		if biome == "DESERT" {
			return g.pal.sand
		}
		return g.pal.dirt
	}
	roll := hash3(g.cfg.Seed+5, wx, wy, wz) % 1000
	ore := uint64(clampPermille(g.cfg.OrePermille))
	switch {
	case roll < ore/3 && depth > 12:
		return g.pal.iron
	case roll < ore:
		return g.pal.coal
	default:
		return g.pal.stone
	}
}
