package pipeline

import (
	"fmt"

	"voxelstream.ai/internal/chunks"
)

type Kind int

const (
	// KindSingle stages touch one chunk at a time.
	KindSingle Kind = iota
	// KindBarrier stages wait until a neighborhood has arrived and then
	// process it as one group.
	KindBarrier
)

func (k Kind) String() string {
	if k == KindBarrier {
		return "barrier"
	}
	return "single"
}

// Lookup returns a chunk that is outside the group but usable as read-only
// input: resident, ready, parked, or already past the stage.
type Lookup func(pos chunks.Pos) (*chunks.Chunk, bool)

type Stage struct {
	Name string
	Kind Kind

	Run func(c *chunks.Chunk) error

	Required func(pos chunks.Pos) []chunks.Pos
	Merge    func(group []*chunks.Chunk, lookup Lookup) error
}

func Single(name string, run func(c *chunks.Chunk) error) Stage {
	return Stage{Name: name, Kind: KindSingle, Run: run}
}

func Barrier(name string, required func(chunks.Pos) []chunks.Pos, merge func([]*chunks.Chunk, Lookup) error) Stage {
	return Stage{Name: name, Kind: KindBarrier, Required: required, Merge: merge}
}

func validateStages(stages []Stage) error {
	for i, s := range stages {
		switch s.Kind {
		case KindSingle:
			if s.Run == nil {
				return fmt.Errorf("stage %d %q: missing Run", i, s.Name)
			}
		case KindBarrier:
			if s.Required == nil || s.Merge == nil {
				return fmt.Errorf("stage %d %q: barrier needs Required and Merge", i, s.Name)
			}
		default:
			return fmt.Errorf("stage %d %q: unknown kind %d", i, s.Name, s.Kind)
		}
	}
	return nil
}

// safely turns a panic inside a stage into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
