package evo

import (
	"gonum.org/v1/gonum/stat"

	"neuroevo/internal/genotype"
)

// MeanNormalizedFitness sets fitness = evaluation / mean(evaluation). When
// the mean is zero, or the population is empty, every fitness is 0.
type MeanNormalizedFitness struct{}

func (MeanNormalizedFitness) CalculateFitness(population []*genotype.Genotype) {
	if len(population) == 0 {
		return
	}
	mean := stat.Mean(Evaluations(population), nil)
	for _, g := range population {
		if mean == 0 {
			g.Fitness = 0
			continue
		}
		g.Fitness = g.Evaluation / mean
	}
}

// Evaluations returns the raw scores in population order.
func Evaluations(population []*genotype.Genotype) []float64 {
	out := make([]float64, len(population))
	for i, g := range population {
		out[i] = g.Evaluation
	}
	return out
}

// Fitnesses returns the fitness values in population order.
func Fitnesses(population []*genotype.Genotype) []float64 {
	out := make([]float64, len(population))
	for i, g := range population {
		out[i] = g.Fitness
	}
	return out
}
