package evo

import (
	"fmt"
	"math"
	"math/rand"

	"neuroevo/internal/genotype"
)

// TopSelector keeps the first Count genotypes of a sorted population. The
// selected genotypes are the population's own, not copies.
type TopSelector struct {
	Count int
}

func (s TopSelector) Select(_ *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error) {
	if s.Count <= 0 {
		return nil, fmt.Errorf("%w: top selection count must be > 0, got %d", ErrInvalidArgument, s.Count)
	}
	n := min(s.Count, len(population))
	return append([]*genotype.Genotype(nil), population[:n]...), nil
}

// RemainderStochasticSelector implements remainder stochastic sampling over
// a population sorted best first. Every genotype with fitness f >= 1 yields
// trunc(f) copies; the scan stops at the first fitness below 1. A second
// pass over the whole population adds one more copy of each genotype with
// probability equal to its fractional remainder. The remainder truncates
// toward zero, so a negative fitness never wins the draw.
type RemainderStochasticSelector struct{}

func (RemainderStochasticSelector) Select(rng *rand.Rand, population []*genotype.Genotype) ([]*genotype.Genotype, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidArgument)
	}

	var intermediate []*genotype.Genotype
	for _, g := range population {
		if g.Fitness < 1 {
			break
		}
		copies := int(math.Trunc(g.Fitness))
		for range copies {
			intermediate = append(intermediate, genotype.New(g.ParameterCopy()))
		}
	}

	for _, g := range population {
		remainder := g.Fitness - math.Trunc(g.Fitness)
		if rng.Float64() < remainder {
			intermediate = append(intermediate, genotype.New(g.ParameterCopy()))
		}
	}
	return intermediate, nil
}
