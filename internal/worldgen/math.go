package worldgen

import "voxelstream.ai/internal/chunks"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// valueNoise2 is bilinear value noise on a square grid, in [0,1).
func valueNoise2(seed int64, x, z, grid int) float64 {
	gx, gz := chunks.FloorDiv(x, grid), chunks.FloorDiv(z, grid)
	fx := float64(chunks.Mod(x, grid)) / float64(grid)
	fz := float64(chunks.Mod(z, grid)) / float64(grid)
	corner := func(cx, cz int) float64 {
		return float64(hash2(seed, cx, cz)%10000) / 10000
	}
	a := corner(gx, gz)
	b := corner(gx+1, gz)
	c := corner(gx, gz+1)
	d := corner(gx+1, gz+1)
	fx = fx * fx * (3 - 2*fx)
	fz = fz * fz * (3 - 2*fz)
	top := a + (b-a)*fx
	bot := c + (d-c)*fx
	return top + (bot-top)*fz
}

func biomeFrom(noise uint64) string {
	// 3-way split.
	switch noise % 3 {
	case 0:
		return "PLAINS"
	case 1:
		return "FOREST"
	default:
		return "DESERT"
	}
}

func biomeAt(seed int64, x, z, regionSize int) string {
	if regionSize <= 0 {
		regionSize = 1
	}
	rx := chunks.FloorDiv(x, regionSize)
	rz := chunks.FloorDiv(z, regionSize)
	return biomeFrom(hash2(seed, rx, rz))
}

func clampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
