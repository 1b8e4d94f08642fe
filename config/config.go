// Package config provides configuration loading and access for the
// engine. Embedded defaults describe a complete runnable soup; a user
// file overrides only the fields it names.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/develop"
	"github.com/crucible-sim/crucible/evo"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/meta"
	"github.com/crucible-sim/crucible/world"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	Chemistry   ChemistryConfig      `yaml:"chemistry"`
	Vocabulary  VocabularyConfig     `yaml:"vocabulary"`
	World       world.Config         `yaml:"world"`
	Development develop.Config       `yaml:"development"`
	Seeding     SeedingConfig        `yaml:"seeding"`
	Mutation    evo.MutationConfig   `yaml:"mutation"`
	Generation  evo.GenerationConfig `yaml:"generation"`
	Fitness     evo.Weights          `yaml:"fitness"`
	Meta        meta.Config          `yaml:"meta"`
	Run         RunConfig            `yaml:"run"`
}

// ChemistryConfig bounds the base registry and names the founding
// chemistry every run starts from.
type ChemistryConfig struct {
	MaxBases int                 `yaml:"max_bases"`
	Bases    []chem.ChemicalBase `yaml:"bases"`
}

// VocabularyConfig bounds the condition vocabulary.
type VocabularyConfig struct {
	MaxConditions int `yaml:"max_conditions"`
}

// SeedingConfig controls how the founding population is drawn.
type SeedingConfig struct {
	Random        genome.RandomConfig `yaml:"random"`
	InitialEnergy float64             `yaml:"initial_energy"` // energy each founder is seeded with
}

// RunConfig sets the epoch cadence of a run.
type RunConfig struct {
	TicksPerEpoch int `yaml:"ticks_per_epoch"`
	Epochs        int `yaml:"epochs"`
}

// Load loads configuration from a YAML file, merging with embedded
// defaults. If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into the same struct; only fields present in the
		// file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// Validate reports the first configuration fault across all sections.
func (c *Config) Validate() error {
	if c.Chemistry.MaxBases <= 0 {
		return fmt.Errorf("config: %w: max_bases %d", fault.ErrConfig, c.Chemistry.MaxBases)
	}
	if len(c.Chemistry.Bases) == 0 {
		return fmt.Errorf("config: %w: no founding chemical bases", fault.ErrConfig)
	}
	if len(c.Chemistry.Bases) > c.Chemistry.MaxBases {
		return fmt.Errorf("config: %w: %d founding bases exceed max_bases %d",
			fault.ErrConfig, len(c.Chemistry.Bases), c.Chemistry.MaxBases)
	}
	if c.Vocabulary.MaxConditions <= 0 {
		return fmt.Errorf("config: %w: max_conditions %d", fault.ErrConfig, c.Vocabulary.MaxConditions)
	}
	if err := c.World.Validate(); err != nil {
		return err
	}
	if err := c.Generation.Validate(); err != nil {
		return err
	}
	if c.Seeding.InitialEnergy <= 0 {
		return fmt.Errorf("config: %w: initial_energy %v", fault.ErrConfig, c.Seeding.InitialEnergy)
	}
	if c.Seeding.Random.MinGenes < 1 || c.Seeding.Random.MaxGenes < c.Seeding.Random.MinGenes {
		return fmt.Errorf("config: %w: gene bounds [%d,%d]",
			fault.ErrConfig, c.Seeding.Random.MinGenes, c.Seeding.Random.MaxGenes)
	}
	if c.Seeding.Random.MinRules < 0 || c.Seeding.Random.MaxRules < c.Seeding.Random.MinRules {
		return fmt.Errorf("config: %w: rule bounds [%d,%d]",
			fault.ErrConfig, c.Seeding.Random.MinRules, c.Seeding.Random.MaxRules)
	}
	if c.Run.TicksPerEpoch <= 0 {
		return fmt.Errorf("config: %w: ticks_per_epoch %d", fault.ErrConfig, c.Run.TicksPerEpoch)
	}
	if c.Run.Epochs < 0 {
		return fmt.Errorf("config: %w: epochs %d", fault.ErrConfig, c.Run.Epochs)
	}
	if c.Generation.PopulationSize > c.World.Width*c.World.Height {
		return fmt.Errorf("config: %w: population %d cannot fit a %dx%d grid",
			fault.ErrConfig, c.Generation.PopulationSize, c.World.Width, c.World.Height)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
