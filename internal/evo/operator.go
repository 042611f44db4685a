package evo

import (
	"math/rand"

	"neuroevo/internal/genotype"
)

// Initializer prepares the first population in place.
type Initializer interface {
	Initialize(rng *rand.Rand, population []*genotype.Genotype) error
}

// Evaluator hands a population to whatever scores it. It must return without
// waiting for the scores; the scorer later calls EvaluationFinished.
type Evaluator interface {
	Evaluate(population []*genotype.Genotype)
}

// FitnessCalculator derives each genotype's Fitness from its Evaluation.
type FitnessCalculator interface {
	CalculateFitness(population []*genotype.Genotype)
}

// Selector builds the intermediate population from a scored population.
type Selector interface {
	Select(rng *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error)
}

// Recombiner breeds a population of exactly size genotypes from the
// intermediate population.
type Recombiner interface {
	Recombine(rng *rand.Rand, intermediate []*genotype.Genotype, size int) ([]*genotype.Genotype, error)
}

// Mutator perturbs a freshly recombined population in place.
type Mutator interface {
	Mutate(rng *rand.Rand, population []*genotype.Genotype)
}

// TerminationCheck decides, after scoring, whether the run is over.
type TerminationCheck interface {
	ShouldTerminate(generation int, population []*genotype.Genotype) bool
}

type InitializerFunc func(rng *rand.Rand, population []*genotype.Genotype) error

func (f InitializerFunc) Initialize(rng *rand.Rand, population []*genotype.Genotype) error {
	return f(rng, population)
}

type EvaluatorFunc func(population []*genotype.Genotype)

func (f EvaluatorFunc) Evaluate(population []*genotype.Genotype) {
	f(population)
}

type FitnessCalculatorFunc func(population []*genotype.Genotype)

func (f FitnessCalculatorFunc) CalculateFitness(population []*genotype.Genotype) {
	f(population)
}

type SelectorFunc func(rng *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error)

func (f SelectorFunc) Select(rng *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error) {
	return f(rng, population)
}

type RecombinerFunc func(rng *rand.Rand, intermediate []*genotype.Genotype, size int) ([]*genotype.Genotype, error)

func (f RecombinerFunc) Recombine(rng *rand.Rand, intermediate []*genotype.Genotype, size int) ([]*genotype.Genotype, error) {
	return f(rng, intermediate, size)
}

type MutatorFunc func(rng *rand.Rand, population []*genotype.Genotype)

func (f MutatorFunc) Mutate(rng *rand.Rand, population []*genotype.Genotype) {
	f(rng, population)
}

type TerminationFunc func(generation int, population []*genotype.Genotype) bool

func (f TerminationFunc) ShouldTerminate(generation int, population []*genotype.Genotype) bool {
	return f(generation, population)
}

// UniformInitializer fills every genotype uniformly from [Min, Max].
type UniformInitializer struct {
	Min float64
	Max float64
}

func (u UniformInitializer) Initialize(rng *rand.Rand, population []*genotype.Genotype) error {
	for _, g := range population {
		if err := g.SetRandomParameters(rng, u.Min, u.Max); err != nil {
			return err
		}
	}
	return nil
}

// AsyncEvaluator does nothing: scores arrive from outside and the caller
// signals EvaluationFinished itself.
type AsyncEvaluator struct{}

func (AsyncEvaluator) Evaluate([]*genotype.Genotype) {}

// GenerationCap terminates once the generation counter reaches Cap. A
// non-positive cap never terminates.
type GenerationCap struct {
	Cap int
}

func (c GenerationCap) ShouldTerminate(generation int, _ []*genotype.Genotype) bool {
	return c.Cap > 0 && generation >= c.Cap
}
