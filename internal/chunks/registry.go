package chunks

import (
	"fmt"
	"sort"
)

// AirID is always registered and always translucent.
const AirID uint16 = 0

type BlockDef struct {
	ID          uint16 `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Lifecycle   bool   `yaml:"lifecycle" json:"lifecycle"`
	Luminance   uint8  `yaml:"luminance" json:"luminance"`
	Translucent bool   `yaml:"translucent" json:"translucent"`
}

// Registry is the block palette. It is immutable after construction.
type Registry struct {
	defs   map[uint16]BlockDef
	byName map[string]uint16
}

func NewRegistry(defs []BlockDef) (*Registry, error) {
	r := &Registry{
		defs:   map[uint16]BlockDef{AirID: {ID: AirID, Name: "air", Translucent: true}},
		byName: map[string]uint16{"air": AirID},
	}
	for _, d := range defs {
		if d.ID == AirID {
			if d.Name != "" && d.Name != "air" {
				return nil, fmt.Errorf("block id 0 is reserved for air, got %q", d.Name)
			}
			continue
		}
		if d.Name == "" {
			return nil, fmt.Errorf("block id %d: missing name", d.ID)
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate block id %d", d.ID)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate block name %q", d.Name)
		}
		if d.Luminance > MaxLight {
			return nil, fmt.Errorf("block %q: luminance %d > %d", d.Name, d.Luminance, MaxLight)
		}
		r.defs[d.ID] = d
		r.byName[d.Name] = d.ID
	}
	return r, nil
}

func (r *Registry) Def(id uint16) (BlockDef, bool) {
	d, ok := r.defs[id]
	return d, ok
}

func (r *Registry) ID(name string) (uint16, bool) {
	id, ok := r.byName[name]
	return id, ok
}

func (r *Registry) Lifecycle(id uint16) bool { return r.defs[id].Lifecycle }

func (r *Registry) Luminance(id uint16) uint8 { return r.defs[id].Luminance }

// Translucent reports whether light passes through id. Unknown ids are opaque.
func (r *Registry) Translucent(id uint16) bool { return r.defs[id].Translucent }

// LifecycleBlocks lists ids that need activation/deactivation events, sorted.
func (r *Registry) LifecycleBlocks() []uint16 {
	var out []uint16
	for id, d := range r.defs {
		if d.Lifecycle {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int { return len(r.defs) }

// Defs lists every definition, air included, ordered by id.
func (r *Registry) Defs() []BlockDef {
	out := make([]BlockDef, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
