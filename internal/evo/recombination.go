package evo

import (
	"fmt"
	"math/rand"

	"neuroevo/internal/genotype"
)

const DefaultSwapChance = 0.6

// CompleteCrossover breeds two offspring gene by gene. With probability
// swapChance the parents' values at an index are exchanged between the
// offspring; otherwise each offspring keeps its own parent's value.
func CompleteCrossover(rng *rand.Rand, parent1, parent2 *genotype.Genotype, swapChance float64) (*genotype.Genotype, *genotype.Genotype, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("%w: random source is required", ErrInvalidArgument)
	}
	if parent1.ParameterCount() != parent2.ParameterCount() {
		return nil, nil, fmt.Errorf("%w: parent parameter counts differ: %d vs %d",
			ErrInvalidArgument, parent1.ParameterCount(), parent2.ParameterCount())
	}

	count := parent1.ParameterCount()
	off1 := make([]float64, count)
	off2 := make([]float64, count)
	for i := range count {
		if rng.Float64() < swapChance {
			off1[i] = parent2.At(i)
			off2[i] = parent1.At(i)
		} else {
			off1[i] = parent1.At(i)
			off2[i] = parent2.At(i)
		}
	}
	return genotype.New(off1), genotype.New(off2), nil
}

// FirstTwoRecombiner crosses the first two intermediate genotypes over and
// over until the new population is full.
type FirstTwoRecombiner struct {
	SwapChance float64
}

func (r FirstTwoRecombiner) Recombine(rng *rand.Rand, intermediate []*genotype.Genotype, size int) ([]*genotype.Genotype, error) {
	if err := checkIntermediate(intermediate); err != nil {
		return nil, err
	}
	out := make([]*genotype.Genotype, 0, size)
	for len(out) < size {
		off1, off2, err := CompleteCrossover(rng, intermediate[0], intermediate[1], r.SwapChance)
		if err != nil {
			return nil, err
		}
		out = appendOffspring(out, size, off1, off2)
	}
	return out, nil
}

// RandomRecombiner carries copies of the first two intermediate genotypes
// over unchanged, then fills the rest by crossing two distinct, uniformly
// drawn intermediate genotypes.
type RandomRecombiner struct {
	SwapChance float64
}

func (r RandomRecombiner) Recombine(rng *rand.Rand, intermediate []*genotype.Genotype, size int) ([]*genotype.Genotype, error) {
	if err := checkIntermediate(intermediate); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidArgument)
	}

	out := make([]*genotype.Genotype, 0, size)
	out = appendOffspring(out, size, genotype.New(intermediate[0].ParameterCopy()), genotype.New(intermediate[1].ParameterCopy()))
	for len(out) < size {
		i := rng.Intn(len(intermediate))
		j := rng.Intn(len(intermediate) - 1)
		if j >= i {
			j++
		}
		off1, off2, err := CompleteCrossover(rng, intermediate[i], intermediate[j], r.SwapChance)
		if err != nil {
			return nil, err
		}
		out = appendOffspring(out, size, off1, off2)
	}
	return out, nil
}

func checkIntermediate(intermediate []*genotype.Genotype) error {
	if len(intermediate) < 2 {
		return fmt.Errorf("%w: intermediate population needs at least 2 genotypes, got %d", ErrInvalidArgument, len(intermediate))
	}
	return nil
}

func appendOffspring(out []*genotype.Genotype, size int, offspring ...*genotype.Genotype) []*genotype.Genotype {
	for _, g := range offspring {
		if len(out) >= size {
			break
		}
		out = append(out, g)
	}
	return out
}
