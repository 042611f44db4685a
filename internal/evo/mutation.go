package evo

import (
	"math/rand"

	"neuroevo/internal/genotype"
)

const (
	DefaultMutationProb   = 0.3
	DefaultMutationAmount = 2.0
	DefaultMutationPerc   = 1.0
)

// UniformMutator mutates each genotype from index SkipBest on with
// probability Perc. A mutated genotype has each parameter, with probability
// Prob, shifted by a value drawn uniformly from [-Amount, Amount].
type UniformMutator struct {
	Perc     float64
	Prob     float64
	Amount   float64
	SkipBest int
}

// DefaultMutator mutates every genotype with the default probabilities.
func DefaultMutator() UniformMutator {
	return UniformMutator{
		Perc:   DefaultMutationPerc,
		Prob:   DefaultMutationProb,
		Amount: DefaultMutationAmount,
	}
}

func (m UniformMutator) Mutate(rng *rand.Rand, population []*genotype.Genotype) {
	for i := max(m.SkipBest, 0); i < len(population); i++ {
		if rng.Float64() < m.Perc {
			MutateGenotype(rng, population[i], m.Prob, m.Amount)
		}
	}
}

// MutateGenotype applies per-parameter uniform mutation to g in place.
func MutateGenotype(rng *rand.Rand, g *genotype.Genotype, prob, amount float64) {
	for i := range g.ParameterCount() {
		if rng.Float64() < prob {
			g.Add(i, rng.Float64()*(amount*2)-amount)
		}
	}
}
