package genotype

import (
	"errors"
	"fmt"
	"iter"
	"math/rand"
)

const (
	DefaultInitMin = -1.0
	DefaultInitMax = 1.0
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFormat          = errors.New("invalid genotype serialisation")
)

// Genotype is a fixed-length real parameter vector together with the raw
// evaluation assigned by a task and the normalized fitness assigned by the
// algorithm.
type Genotype struct {
	Evaluation float64
	Fitness    float64

	parameters []float64
}

// New wraps parameters without copying them. The slice length fixes the
// parameter count for the lifetime of the genotype.
func New(parameters []float64) *Genotype {
	if parameters == nil {
		parameters = []float64{}
	}
	return &Genotype{parameters: parameters}
}

// Zero returns a genotype with count zero-valued parameters.
func Zero(count int) *Genotype {
	if count < 0 {
		count = 0
	}
	return New(make([]float64, count))
}

// GenerateRandom returns a genotype with count parameters drawn uniformly
// from [min, max].
func GenerateRandom(rng *rand.Rand, count int, min, max float64) (*Genotype, error) {
	g := Zero(count)
	if count == 0 {
		return g, nil
	}
	if err := g.SetRandomParameters(rng, min, max); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Genotype) ParameterCount() int {
	return len(g.parameters)
}

func (g *Genotype) At(i int) float64 {
	return g.parameters[i]
}

func (g *Genotype) Set(i int, value float64) {
	g.parameters[i] = value
}

// Add offsets parameter i by delta.
func (g *Genotype) Add(i int, delta float64) {
	g.parameters[i] += delta
}

// SetRandomParameters fills every parameter independently from [min, max].
func (g *Genotype) SetRandomParameters(rng *rand.Rand, min, max float64) error {
	if rng == nil {
		return fmt.Errorf("%w: random source is required", ErrInvalidArgument)
	}
	if min > max {
		return fmt.Errorf("%w: minimum %g exceeds maximum %g", ErrInvalidArgument, min, max)
	}
	span := max - min
	for i := range g.parameters {
		g.parameters[i] = min + rng.Float64()*span
	}
	return nil
}

// ParameterCopy returns a copy of the parameters that does not alias the
// genotype's storage.
func (g *Genotype) ParameterCopy() []float64 {
	return append([]float64(nil), g.parameters...)
}

// Clone returns an independent genotype with the same parameters, evaluation
// and fitness.
func (g *Genotype) Clone() *Genotype {
	return &Genotype{
		Evaluation: g.Evaluation,
		Fitness:    g.Fitness,
		parameters: g.ParameterCopy(),
	}
}

// Values yields the parameters in order. Each call starts a new pass.
func (g *Genotype) Values() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for _, value := range g.parameters {
			if !yield(value) {
				return
			}
		}
	}
}

// Compare orders genotypes by fitness, best first. It returns a negative
// number when g sorts before other.
func (g *Genotype) Compare(other *Genotype) int {
	switch {
	case g.Fitness > other.Fitness:
		return -1
	case g.Fitness < other.Fitness:
		return 1
	default:
		return 0
	}
}

// ByFitness is a comparison function for slices.SortStableFunc.
func ByFitness(a, b *Genotype) int {
	return a.Compare(b)
}

func (g *Genotype) String() string {
	return fmt.Sprintf("genotype{params=%d evaluation=%g fitness=%g}", len(g.parameters), g.Evaluation, g.Fitness)
}
