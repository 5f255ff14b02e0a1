package chunks

// BlockMappings maps a block id to the world positions holding it.
type BlockMappings map[uint16][]Vec3i

// MappingsOf collects every block in s whose definition needs lifecycle
// events. Walks the whole volume.
func MappingsOf(s *Snapshot, reg *Registry) BlockMappings {
	out := BlockMappings{}
	origin := s.pos.Origin()
	for i, id := range s.Blocks() {
		if id == AirID || !reg.Lifecycle(id) {
			continue
		}
		x, y, z := Coords(i)
		out[id] = append(out[id], Vec3i{X: origin.X + x, Y: origin.Y + y, Z: origin.Z + z})
	}
	return out
}

// Count returns the total number of positions across all ids.
func (m BlockMappings) Count() int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}
