// Package tuning loads configs/stream.yaml.
package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/provider"
	"voxelstream.ai/internal/worldgen"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "stream.schema.json"

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Pipeline  Pipeline          `yaml:"pipeline"`
	Provider  Provider          `yaml:"provider"`
	Relevance Relevance         `yaml:"relevance"`
	Storage   Storage           `yaml:"storage"`
	Worldgen  Worldgen          `yaml:"worldgen"`
	Blocks    []chunks.BlockDef `yaml:"blocks"`
	EventLog  EventLog          `yaml:"event_log"`
	Debug     Debug             `yaml:"debug"`
}

type Pipeline struct {
	Workers              int     `yaml:"workers"`
	MaxInFlight          int     `yaml:"max_in_flight"`
	ExtraChannels        int     `yaml:"extra_channels"`
	GenerationRatePerSec float64 `yaml:"generation_rate_per_sec"`
	GenerationBurst      int     `yaml:"generation_burst"`
}

type Provider struct {
	UnloadPerTick           int `yaml:"unload_per_tick"`
	ProcessingDeadlineMs    int `yaml:"processing_deadline_ms"`
	UnloadQueueSize         int `yaml:"unload_queue_size"`
	UnloadEnqueueTimeoutMs  int `yaml:"unload_enqueue_timeout_ms"`
	UnloadShutdownTimeoutMs int `yaml:"unload_shutdown_timeout_ms"`
}

type Relevance struct {
	// DefaultDistance is the box size in chunks (x,y,z) for viewers added
	// without an explicit distance.
	DefaultDistance []int `yaml:"default_distance"`
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Storage struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // sqlite file, relative to the data dir
	DSN     string `yaml:"dsn"`
}

type Worldgen struct {
	Seed            int64 `yaml:"seed"`
	SeaLevel        int   `yaml:"sea_level"`
	HeightRange     int   `yaml:"height_range"`
	NoiseGrid       int   `yaml:"noise_grid"`
	BiomeRegionSize int   `yaml:"biome_region_size"`
	OrePermille     int   `yaml:"ore_permille"`
	TorchPermille   int   `yaml:"torch_permille"`
	EntityPermille  int   `yaml:"entity_permille"`
}

type EventLog struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // relative to the data dir
	Queue   int    `yaml:"queue"`
}

type Debug struct {
	DeadlockDetection bool `yaml:"deadlock_detection"`
	DeadlockTimeoutMs int  `yaml:"deadlock_timeout_ms"`
}

// DefaultBlocks is the palette the bundled world generator expects.
func DefaultBlocks() []chunks.BlockDef {
	return []chunks.BlockDef{
		{ID: 1, Name: "stone"},
		{ID: 2, Name: "dirt"},
		{ID: 3, Name: "grass"},
		{ID: 4, Name: "sand"},
		{ID: 5, Name: "coal_ore"},
		{ID: 6, Name: "iron_ore"},
		{ID: 7, Name: "torch", Lifecycle: true, Luminance: 14, Translucent: true},
		{ID: 8, Name: "chest", Lifecycle: true},
	}
}

func Defaults() Tuning {
	wg := worldgen.DefaultConfig()
	return Tuning{
		TickRateHz: 20,
		Pipeline: Pipeline{
			Workers:     4,
			MaxInFlight: 64,
		},
		Provider: Provider{
			UnloadPerTick:           64,
			ProcessingDeadlineMs:    24,
			UnloadQueueSize:         1024,
			UnloadEnqueueTimeoutMs:  1000,
			UnloadShutdownTimeoutMs: 5000,
		},
		Relevance: Relevance{DefaultDistance: []int{5, 3, 5}},
		Storage:   Storage{Backend: BackendSQLite, Path: "chunks.sqlite"},
		Worldgen: Worldgen{
			Seed:            wg.Seed,
			SeaLevel:        wg.SeaLevel,
			HeightRange:     wg.HeightRange,
			NoiseGrid:       wg.NoiseGrid,
			BiomeRegionSize: wg.BiomeRegionSize,
			OrePermille:     wg.OrePermille,
			TorchPermille:   wg.TorchPermille,
			EntityPermille:  wg.ChestPermille,
		},
		Blocks:   DefaultBlocks(),
		EventLog: EventLog{Enabled: true, Dir: ".", Queue: 4096},
		Debug:    Debug{DeadlockTimeoutMs: 30000},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	t, err = Parse(raw)
	if err != nil {
		return t, fmt.Errorf("stream.yaml: %w", err)
	}
	return t, nil
}

// Parse validates raw against the embedded schema, decodes it over the
// defaults, and checks the result.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := validateSchema(raw); err != nil {
		return t, err
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		// A listed palette replaces the default one instead of merging into it.
		t.Blocks = nil
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
			return t, err
		}
		if t.Blocks == nil {
			t.Blocks = DefaultBlocks()
		}
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := compileSchema()
	if err != nil {
		return err
	}
	return s.Validate(v)
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.Pipeline.Workers <= 0 {
		t.Pipeline.Workers = 4
	}
	if t.Pipeline.MaxInFlight <= 0 {
		t.Pipeline.MaxInFlight = 64
	}
	if t.Provider.UnloadPerTick <= 0 {
		t.Provider.UnloadPerTick = 64
	}
	if len(t.Relevance.DefaultDistance) == 0 {
		t.Relevance.DefaultDistance = []int{5, 3, 5}
	}
	t.Storage.Backend = strings.ToLower(strings.TrimSpace(t.Storage.Backend))
	if t.Storage.Backend == "" {
		t.Storage.Backend = BackendSQLite
	}
	if t.Storage.Backend == BackendSQLite && strings.TrimSpace(t.Storage.Path) == "" {
		t.Storage.Path = "chunks.sqlite"
	}
	if t.EventLog.Dir == "" {
		t.EventLog.Dir = "."
	}
}

var (
	ErrBadDistance   = errors.New("relevance.default_distance must be three non-negative integers")
	ErrMissingDSN    = errors.New("storage.dsn is required for the postgres backend")
	ErrUnknownStore  = errors.New("unknown storage backend")
	ErrEmptyPalette  = errors.New("blocks must not be empty")
	ErrDeadlineRange = errors.New("provider.processing_deadline_ms must be below one tick")
)

func (t Tuning) Validate() error {
	if len(t.Relevance.DefaultDistance) != 3 {
		return ErrBadDistance
	}
	for _, d := range t.Relevance.DefaultDistance {
		if d < 0 {
			return ErrBadDistance
		}
	}
	switch t.Storage.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(t.Storage.DSN) == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, t.Storage.Backend)
	}
	if len(t.Blocks) == 0 {
		return ErrEmptyPalette
	}
	if _, err := chunks.NewRegistry(t.Blocks); err != nil {
		return fmt.Errorf("blocks: %w", err)
	}
	if t.Provider.ProcessingDeadlineMs > 0 && time.Duration(t.Provider.ProcessingDeadlineMs)*time.Millisecond >= t.TickInterval() {
		return ErrDeadlineRange
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(max(t.TickRateHz, 1))
}

func (t Tuning) DefaultDistance() chunks.Pos {
	d := t.Relevance.DefaultDistance
	if len(d) != 3 {
		return chunks.Pos{X: 5, Y: 3, Z: 5}
	}
	return chunks.Pos{X: d[0], Y: d[1], Z: d[2]}
}

func (t Tuning) Registry() (*chunks.Registry, error) {
	return chunks.NewRegistry(t.Blocks)
}

func (t Tuning) WorldgenConfig() worldgen.Config {
	w := t.Worldgen
	return worldgen.Config{
		Seed:            w.Seed,
		SeaLevel:        w.SeaLevel,
		HeightRange:     w.HeightRange,
		NoiseGrid:       w.NoiseGrid,
		BiomeRegionSize: w.BiomeRegionSize,
		OrePermille:     w.OrePermille,
		TorchPermille:   w.TorchPermille,
		ChestPermille:   w.EntityPermille,
	}
}

// ProviderConfig fills the sizing and timing fields. Collaborators are left
// for the caller.
func (t Tuning) ProviderConfig() provider.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return provider.Config{
		ExtraChannels:         t.Pipeline.ExtraChannels,
		Workers:               t.Pipeline.Workers,
		MaxInFlight:           t.Pipeline.MaxInFlight,
		GenerationRate:        t.Pipeline.GenerationRatePerSec,
		GenerationBurst:       t.Pipeline.GenerationBurst,
		UnloadPerTick:         t.Provider.UnloadPerTick,
		ProcessingDeadline:    ms(t.Provider.ProcessingDeadlineMs),
		UnloadQueueSize:       t.Provider.UnloadQueueSize,
		UnloadEnqueueTimeout:  ms(t.Provider.UnloadEnqueueTimeoutMs),
		UnloadShutdownTimeout: ms(t.Provider.UnloadShutdownTimeoutMs),
		TickRateHz:            t.TickRateHz,
	}
}
