package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"neuroevo/internal/config"
	"neuroevo/internal/evo"
	"neuroevo/internal/genotype"
	"neuroevo/internal/metrics"
	"neuroevo/internal/nn"
)

// Config drives a Manager. Zero numeric fields are taken literally; use
// FromConfig to start from the file defaults.
type Config struct {
	PopulationSize int
	Topology       []int
	Activation     nn.ActivationFunc
	InitMin        float64
	InitMax        float64
	// Seed of 0 draws a fresh seed per run. Otherwise run i uses Seed+i.
	Seed int64

	Elitist        bool
	SortPopulation bool
	SwapChance     float64

	MutationProbability    float64
	MutationAmount         float64
	ApplicationProbability float64
	SkipBest               int

	// GenerationCap of 0 never terminates a run.
	GenerationCap int
	SaveFirstN    int
	RestartDelay  time.Duration
	// MaxRuns of 0 restarts until the context is cancelled.
	MaxRuns int

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// FromConfig translates a loaded run configuration.
func FromConfig(cfg config.Config) (Config, error) {
	activation, err := nn.GetActivation(cfg.Population.Activation)
	if err != nil {
		return Config{}, err
	}
	return Config{
		PopulationSize:         cfg.Population.Size,
		Topology:               append([]int(nil), cfg.Population.Topology...),
		Activation:             activation,
		InitMin:                cfg.Population.InitMin,
		InitMax:                cfg.Population.InitMax,
		Seed:                   cfg.Population.Seed,
		Elitist:                cfg.Selection.Elitist,
		SortPopulation:         cfg.Selection.SortPopulation,
		SwapChance:             cfg.Recombination.SwapChance,
		MutationProbability:    cfg.Mutation.Probability,
		MutationAmount:         cfg.Mutation.Amount,
		ApplicationProbability: cfg.Mutation.ApplicationProbability,
		SkipBest:               cfg.Mutation.SkipBest,
		GenerationCap:          cfg.Termination.GenerationCap,
		SaveFirstN:             cfg.Harness.SaveFirstN,
		RestartDelay:           cfg.Harness.RestartDelay,
		MaxRuns:                cfg.Harness.MaxRuns,
	}, nil
}

func (c Config) validate() error {
	switch {
	case c.PopulationSize <= 0:
		return fmt.Errorf("population size must be > 0, got %d", c.PopulationSize)
	case len(c.Topology) < 2:
		return fmt.Errorf("topology needs at least 2 entries, got %v", c.Topology)
	case c.MaxRuns < 0:
		return errors.New("max runs must be >= 0")
	case c.RestartDelay < 0:
		return errors.New("restart delay must be >= 0")
	}
	return nil
}

func (c Config) seedFor(index int) int64 {
	if c.Seed == 0 {
		return time.Now().UnixNano()
	}
	return c.Seed + int64(index)
}

// algorithmConfig installs the manager's operators: top-three or remainder
// stochastic selection, random recombination and mutation that spares the
// first SkipBest genotypes.
func (c Config) algorithmConfig(seed int64, logger *slog.Logger, evaluator evo.Evaluator) evo.Config {
	var selector evo.Selector = evo.TopSelector{Count: 3}
	if !c.Elitist {
		selector = paddedSelector{inner: evo.RemainderStochasticSelector{}, min: 2}
	}
	var termination evo.TerminationCheck
	if c.GenerationCap > 0 {
		termination = evo.GenerationCap{Cap: c.GenerationCap}
	}
	return evo.Config{
		PopulationSize:    c.PopulationSize,
		ParameterCount:    nn.WeightCount(c.Topology),
		KeepUnsorted:      !c.SortPopulation,
		Rand:              rand.New(rand.NewSource(seed)),
		Logger:            logger,
		Initializer:       evo.UniformInitializer{Min: c.InitMin, Max: c.InitMax},
		Evaluator:         evaluator,
		FitnessCalculator: evo.MeanNormalizedFitness{},
		Selector:          selector,
		Recombiner:        evo.RandomRecombiner{SwapChance: c.SwapChance},
		Mutator: evo.UniformMutator{
			Perc:     c.ApplicationProbability,
			Prob:     c.MutationProbability,
			Amount:   c.MutationAmount,
			SkipBest: c.SkipBest,
		},
		Termination: termination,
	}
}

// paddedSelector tops up a short intermediate population with copies of the
// leading genotypes so recombination always has two parents. A generation
// where every fitness is zero selects nothing otherwise.
type paddedSelector struct {
	inner evo.Selector
	min   int
}

func (s paddedSelector) Select(rng *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error) {
	out, err := s.inner.Select(rng, population)
	if err != nil {
		return nil, err
	}
	for i := 0; len(out) < s.min && i < len(population); i++ {
		out = append(out, genotype.New(population[i].ParameterCopy()))
	}
	return out, nil
}
