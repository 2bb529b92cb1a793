// Package tuning loads the YAML knobs for the world store, the write-back
// cache and the terrain generator.
package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/worldsource"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	Store     Store     `yaml:"store"`
	Source    Source    `yaml:"source"`
	Generator Generator `yaml:"generator"`
}

type Store struct {
	Codec         string `yaml:"codec"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

type Source struct {
	Readers               int  `yaml:"readers"`
	DebounceFrames        int  `yaml:"debounce_frames"`
	MaxWaitFrames         int  `yaml:"max_wait_frames"`
	MaxPromotionsPerFrame int  `yaml:"max_promotions_per_frame"`
	WriteQueueCapacity    int  `yaml:"write_queue_capacity"`
	PersistGenerated      bool `yaml:"persist_generated"`
	FrameIntervalMs       int  `yaml:"frame_interval_ms"`
}

type Generator struct {
	Seed            int64 `yaml:"seed"`
	SeaLevel        int   `yaml:"sea_level"`
	MaxHeight       int   `yaml:"max_height"`
	BiomeRegionSize int   `yaml:"biome_region_size"`
}

func Defaults() Tuning {
	return Tuning{
		Store: Store{Codec: "zstd", QueueCapacity: 4096},
		Source: Source{
			DebounceFrames:        150,
			MaxWaitFrames:         1800,
			MaxPromotionsPerFrame: 2,
			WriteQueueCapacity:    256,
			FrameIntervalMs:       16,
		},
		Generator: Generator{Seed: 1337, SeaLevel: 62, MaxHeight: 120, BiomeRegionSize: 4},
	}
}

// Load reads path over Defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := Validate(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks a YAML document against the embedded schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// The validator expects JSON-decoded values.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
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
	if err := c.AddResource("tuning.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("tuning.schema.json")
}

func (t Tuning) StoreOptions(create bool, logger *log.Logger) worlddb.Options {
	return worlddb.Options{
		Create:        create,
		Codec:         t.Store.Codec,
		QueueCapacity: t.Store.QueueCapacity,
		Logger:        logger,
	}
}

func (t Tuning) SourceConfig(journal worldsource.Journal, logger *log.Logger) worldsource.Config {
	return worldsource.Config{
		Readers:               t.Source.Readers,
		DebounceFrames:        t.Source.DebounceFrames,
		MaxWaitFrames:         t.Source.MaxWaitFrames,
		MaxPromotionsPerFrame: t.Source.MaxPromotionsPerFrame,
		WriteQueueCapacity:    t.Source.WriteQueueCapacity,
		PersistGenerated:      t.Source.PersistGenerated,
		Journal:               journal,
		Logger:                logger,
	}
}

func (t Tuning) FrameInterval() time.Duration {
	if t.Source.FrameIntervalMs <= 0 {
		return 16 * time.Millisecond
	}
	return time.Duration(t.Source.FrameIntervalMs) * time.Millisecond
}
