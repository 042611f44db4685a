package genotype

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"testing"
)

func TestSetRandomParametersStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ranges := []struct {
		min float64
		max float64
	}{
		{min: -1, max: 1},
		{min: 0, max: 0},
		{min: 3.5, max: 10},
		{min: -100, max: -99},
	}

	for _, r := range ranges {
		g := Zero(64)
		if err := g.SetRandomParameters(rng, r.min, r.max); err != nil {
			t.Fatalf("set random [%g,%g]: %v", r.min, r.max, err)
		}
		for i := 0; i < g.ParameterCount(); i++ {
			if v := g.At(i); v < r.min || v > r.max {
				t.Fatalf("parameter %d out of range: got=%g range=[%g,%g]", i, v, r.min, r.max)
			}
		}
	}
}

func TestSetRandomParametersRejectsInvertedRange(t *testing.T) {
	g := Zero(3)
	err := g.SetRandomParameters(rand.New(rand.NewSource(1)), 1, -1)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGenerateRandomZeroCount(t *testing.T) {
	g, err := GenerateRandom(nil, 0, 1, -1)
	if err != nil {
		t.Fatalf("zero count should not validate range: %v", err)
	}
	if g.ParameterCount() != 0 {
		t.Fatalf("unexpected parameter count: %d", g.ParameterCount())
	}
}

func TestParameterCopyDoesNotAlias(t *testing.T) {
	g := New([]float64{1, 2, 3})
	cp := g.ParameterCopy()
	cp[0] = 99
	if g.At(0) != 1 {
		t.Fatalf("copy aliased genotype storage: %v", g.ParameterCopy())
	}

	clone := g.Clone()
	clone.Set(1, -5)
	if g.At(1) != 2 {
		t.Fatal("clone aliased genotype storage")
	}
}

func TestValuesIsRestartable(t *testing.T) {
	g := New([]float64{0.5, -0.25, 4})
	first := slices.Collect(g.Values())
	second := slices.Collect(g.Values())
	if !slices.Equal(first, second) || !slices.Equal(first, []float64{0.5, -0.25, 4}) {
		t.Fatalf("unexpected values: first=%v second=%v", first, second)
	}

	var partial []float64
	for v := range g.Values() {
		partial = append(partial, v)
		if len(partial) == 2 {
			break
		}
	}
	if len(partial) != 2 {
		t.Fatalf("early break yielded %d values", len(partial))
	}
}

func TestCompareSortsBestFirst(t *testing.T) {
	pop := []*Genotype{
		{Fitness: 0.2},
		{Fitness: 3.1},
		{Fitness: 1.0},
		{Fitness: 1.0},
	}
	slices.SortStableFunc(pop, ByFitness)
	for i := 0; i+1 < len(pop); i++ {
		if pop[i].Fitness < pop[i+1].Fitness {
			t.Fatalf("population not descending at %d: %v", i, pop)
		}
	}
	if pop[0].Compare(pop[1]) >= 0 {
		t.Fatal("expected higher fitness to compare first")
	}
	if pop[1].Compare(pop[2]) != 0 {
		t.Fatal("expected equal fitness to compare equal")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	vectors := [][]float64{
		{},
		{0},
		{1.5, -2.25, 3},
		{math.SmallestNonzeroFloat64, math.MaxFloat64, -0.0001},
	}
	random := make([]float64, 200)
	for i := range random {
		random[i] = rng.NormFloat64() * 1e3
	}
	vectors = append(vectors, random)

	for _, params := range vectors {
		g := New(append([]float64(nil), params...))
		decoded, err := Unmarshal(g.Marshal())
		if err != nil {
			t.Fatalf("unmarshal %q: %v", g.Marshal(), err)
		}
		if !slices.Equal(decoded.ParameterCopy(), params) {
			t.Fatalf("round trip mismatch: got=%v want=%v", decoded.ParameterCopy(), params)
		}
	}
}

func TestMarshalFormat(t *testing.T) {
	got := string(New([]float64{1, -0.5, 2.25}).Marshal())
	if got != "1;-0.5;2.25" {
		t.Fatalf("unexpected serialisation: %q", got)
	}
}

func TestUnmarshalRejectsMalformedToken(t *testing.T) {
	inputs := []string{"1;abc;3", "1;;2", "1;2;", "0.5,0.25"}
	for _, input := range inputs {
		if _, err := Unmarshal([]byte(input)); !errors.Is(err, ErrFormat) {
			t.Fatalf("expected format error for %q, got %v", input, err)
		}
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genotype.txt")
	g := New([]float64{0.1, 0.2, -0.3})
	if err := g.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(loaded.ParameterCopy(), g.ParameterCopy()) {
		t.Fatalf("loaded mismatch: got=%v want=%v", loaded.ParameterCopy(), g.ParameterCopy())
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected missing file error")
	}
}
