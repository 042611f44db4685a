package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"neuroevo/internal/nn"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full run configuration. INI files map one section per
// field below; YAML files use the same names as top-level keys.
type Config struct {
	Population    PopulationConfig    `yaml:"population"`
	Selection     SelectionConfig     `yaml:"selection"`
	Recombination RecombinationConfig `yaml:"recombination"`
	Mutation      MutationConfig      `yaml:"mutation"`
	Termination   TerminationConfig   `yaml:"termination"`
	Harness       HarnessConfig       `yaml:"harness"`
	Task          TaskConfig          `yaml:"task"`
	Store         StoreConfig         `yaml:"store"`
}

type PopulationConfig struct {
	Size       int     `ini:"size" yaml:"size" validate:"gt=0"`
	Topology   []int   `ini:"topology" delim:" " yaml:"topology" validate:"min=2,dive,gt=0"`
	Activation string  `ini:"activation" yaml:"activation" validate:"required"`
	InitMin    float64 `ini:"init_min" yaml:"init_min" validate:"ltefield=InitMax"`
	InitMax    float64 `ini:"init_max" yaml:"init_max"`
	Seed       int64   `ini:"seed" yaml:"seed"`
}

type SelectionConfig struct {
	// Elitist keeps the top three genotypes; otherwise remainder stochastic
	// sampling is used.
	Elitist        bool `ini:"elitist" yaml:"elitist"`
	SortPopulation bool `ini:"sort_population" yaml:"sort_population"`
}

type RecombinationConfig struct {
	SwapChance float64 `ini:"swap_chance" yaml:"swap_chance" validate:"gte=0,lte=1"`
}

type MutationConfig struct {
	Probability            float64 `ini:"probability" yaml:"probability" validate:"gte=0,lte=1"`
	Amount                 float64 `ini:"amount" yaml:"amount" validate:"gte=0"`
	ApplicationProbability float64 `ini:"application_probability" yaml:"application_probability" validate:"gte=0,lte=1"`
	SkipBest               int     `ini:"skip_best" yaml:"skip_best" validate:"gte=0"`
}

type TerminationConfig struct {
	// GenerationCap of 0 never terminates.
	GenerationCap int `ini:"generation_cap" yaml:"generation_cap" validate:"gte=0"`
}

type HarnessConfig struct {
	SaveFirstN   int           `ini:"save_first_n" yaml:"save_first_n" validate:"gte=0"`
	RestartDelay time.Duration `ini:"restart_delay" yaml:"restart_delay" validate:"gte=0"`
	// MaxRuns of 0 restarts until cancelled.
	MaxRuns int `ini:"max_runs" yaml:"max_runs" validate:"gte=0"`
}

type TaskConfig struct {
	Name    string `ini:"name" yaml:"name" validate:"oneof=xor track"`
	Steps   int    `ini:"steps" yaml:"steps" validate:"gt=0"`
	Workers int    `ini:"workers" yaml:"workers" validate:"gt=0"`
}

type StoreConfig struct {
	Kind string `ini:"kind" yaml:"kind" validate:"oneof=memory file sqlite"`
	Path string `ini:"path" yaml:"path" validate:"required_unless=Kind memory"`
}

func Default() Config {
	return Config{
		Population: PopulationConfig{
			Size:       30,
			Topology:   []int{5, 4, 3, 2},
			Activation: "softsign",
			InitMin:    -1,
			InitMax:    1,
		},
		Selection: SelectionConfig{
			SortPopulation: true,
		},
		Recombination: RecombinationConfig{
			SwapChance: 0.6,
		},
		Mutation: MutationConfig{
			Probability:            0.3,
			Amount:                 2.0,
			ApplicationProbability: 1.0,
			SkipBest:               2,
		},
		Termination: TerminationConfig{
			GenerationCap: 100,
		},
		Harness: HarnessConfig{
			RestartDelay: 5 * time.Second,
			MaxRuns:      1,
		},
		Task: TaskConfig{
			Name:    "track",
			Steps:   400,
			Workers: 4,
		},
		Store: StoreConfig{
			Kind: "memory",
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and that the activation is registered.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if _, err := nn.GetActivation(c.Population.Activation); err != nil && c.Population.Activation != "" {
		errs = append(errs, fmt.Errorf("%w: population.activation: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// Load reads path on top of Default and validates the result. The format
// follows the extension: .ini/.cfg or .yaml/.yml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".cfg":
		return ParseINI(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Config{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalid, filepath.Ext(path))
	}
}

func ParseINI(data []byte) (Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, data)
	if err != nil {
		return Config{}, fmt.Errorf("parse ini config: %w", err)
	}

	cfg := Default()
	sections := []struct {
		name   string
		target any
	}{
		{"population", &cfg.Population},
		{"selection", &cfg.Selection},
		{"recombination", &cfg.Recombination},
		{"mutation", &cfg.Mutation},
		{"termination", &cfg.Termination},
		{"harness", &cfg.Harness},
		{"task", &cfg.Task},
		{"store", &cfg.Store},
	}
	for _, section := range sections {
		if !file.HasSection(section.name) {
			continue
		}
		if err := file.Section(section.name).MapTo(section.target); err != nil {
			return Config{}, fmt.Errorf("map [%s] section: %w", section.name, err)
		}
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.Population.Activation = strings.ToLower(strings.TrimSpace(c.Population.Activation))
	c.Task.Name = strings.ToLower(strings.TrimSpace(c.Task.Name))
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
}
