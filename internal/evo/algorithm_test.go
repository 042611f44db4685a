package evo

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"neuroevo/internal/genotype"
)

func scoreByFirstParameter(population []*genotype.Genotype) {
	for _, g := range population {
		g.Evaluation = g.At(0) + 10
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{PopulationSize: 0, ParameterCount: 3}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty population, got %v", err)
	}
	if _, err := New(Config{PopulationSize: 3, ParameterCount: -1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative parameter count, got %v", err)
	}

	ga, err := New(Config{PopulationSize: 4, ParameterCount: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ga.State() != StateIdle || ga.Running() || ga.GenerationCount() != 1 || !ga.SortPopulation() {
		t.Fatalf("unexpected initial state: state=%s generation=%d", ga.State(), ga.GenerationCount())
	}
	for _, g := range ga.Population() {
		if g.ParameterCount() != 3 {
			t.Fatalf("unexpected parameter count: %d", g.ParameterCount())
		}
	}
}

func TestStartInitializesAndEvaluates(t *testing.T) {
	var evaluated []*genotype.Genotype
	ga, err := New(Config{
		PopulationSize: 6,
		ParameterCount: 5,
		Seed:           1,
		Evaluator:      EvaluatorFunc(func(p []*genotype.Genotype) { evaluated = p }),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ga.State() != StateEvaluating || !ga.Running() {
		t.Fatalf("expected evaluating state, got %s", ga.State())
	}
	if len(evaluated) != 6 {
		t.Fatalf("evaluator got %d genotypes, want 6", len(evaluated))
	}
	for _, g := range evaluated {
		for v := range g.Values() {
			if v < -1 || v > 1 {
				t.Fatalf("initial parameter out of default range: %f", v)
			}
		}
	}

	if err := ga.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on second start, got %v", err)
	}
}

func TestEvaluationFinishedRequiresOutstandingEvaluation(t *testing.T) {
	ga, err := New(Config{PopulationSize: 3, ParameterCount: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.EvaluationFinished(); !errors.Is(err, ErrNotEvaluating) {
		t.Fatalf("expected ErrNotEvaluating before start, got %v", err)
	}
}

func TestGenerationCapTerminatesAfterThreeGenerations(t *testing.T) {
	ga, err := New(Config{
		PopulationSize: 5,
		ParameterCount: 4,
		Seed:           7,
		Termination:    GenerationCap{Cap: 3},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	terminations := 0
	var terminated *GeneticAlgorithm
	ga.OnTerminated(func(g *GeneticAlgorithm) {
		terminations++
		terminated = g
	})

	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	signals := 0
	for ga.State() == StateEvaluating {
		scoreByFirstParameter(ga.Population())
		if err := ga.EvaluationFinished(); err != nil {
			t.Fatalf("evaluation finished: %v", err)
		}
		signals++
		if signals > 10 {
			t.Fatal("algorithm did not terminate")
		}
	}

	if signals != 3 || terminations != 1 || terminated != ga {
		t.Fatalf("unexpected termination: signals=%d terminations=%d", signals, terminations)
	}
	if ga.GenerationCount() != 3 || ga.State() != StateTerminated || ga.Running() {
		t.Fatalf("unexpected final state: generation=%d state=%s", ga.GenerationCount(), ga.State())
	}
	if err := ga.EvaluationFinished(); !errors.Is(err, ErrNotEvaluating) {
		t.Fatalf("expected ErrNotEvaluating after termination, got %v", err)
	}
}

func TestSynchronousEvaluatorRunsToTermination(t *testing.T) {
	var ga *GeneticAlgorithm
	var nestedErr error
	ga, err := New(Config{
		PopulationSize: 5,
		ParameterCount: 2,
		Seed:           3,
		Termination:    GenerationCap{Cap: 4},
		Evaluator: EvaluatorFunc(func(p []*genotype.Genotype) {
			scoreByFirstParameter(p)
			if err := ga.EvaluationFinished(); err != nil {
				nestedErr = err
			}
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if nestedErr != nil {
		t.Fatalf("nested evaluation finished: %v", nestedErr)
	}
	if ga.State() != StateTerminated || ga.GenerationCount() != 4 {
		t.Fatalf("unexpected final state: state=%s generation=%d", ga.State(), ga.GenerationCount())
	}
}

func TestFitnessObserverSeesSortedPopulation(t *testing.T) {
	ga, err := New(Config{PopulationSize: 8, ParameterCount: 3, Seed: 11})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	calls := 0
	unsubscribe := ga.OnFitnessCalculated(func(population []*genotype.Genotype) {
		calls++
		for i := 0; i+1 < len(population); i++ {
			if population[i].Fitness < population[i+1].Fitness {
				t.Fatalf("population not sorted at %d: %f < %f", i, population[i].Fitness, population[i+1].Fitness)
			}
		}
	})

	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for range 2 {
		scoreByFirstParameter(ga.Population())
		if err := ga.EvaluationFinished(); err != nil {
			t.Fatalf("evaluation finished: %v", err)
		}
	}
	unsubscribe()
	scoreByFirstParameter(ga.Population())
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("evaluation finished: %v", err)
	}
	if calls != 2 {
		t.Fatalf("unexpected observer calls: got=%d want=2", calls)
	}
	if ga.GenerationCount() != 4 {
		t.Fatalf("unexpected generation: got=%d want=4", ga.GenerationCount())
	}
}

func TestKeepUnsortedLeavesOrder(t *testing.T) {
	var order []float64
	ga, err := New(Config{
		PopulationSize: 3,
		ParameterCount: 1,
		KeepUnsorted:   true,
		Initializer: InitializerFunc(func(_ *rand.Rand, p []*genotype.Genotype) error {
			for i, g := range p {
				g.Set(0, float64(i))
			}
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ga.OnFitnessCalculated(func(p []*genotype.Genotype) {
		order = Evaluations(p)
	})
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	scoreByFirstParameter(ga.Population())
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("evaluation finished: %v", err)
	}
	if !slices.Equal(order, []float64{10, 11, 12}) {
		t.Fatalf("unsorted population reordered: %v", order)
	}
}

func TestOperatorOrder(t *testing.T) {
	var calls []string
	record := func(name string) { calls = append(calls, name) }

	ga, err := New(Config{
		PopulationSize: 4,
		ParameterCount: 2,
		Seed:           5,
		Initializer: InitializerFunc(func(*rand.Rand, []*genotype.Genotype) error {
			record("initialize")
			return nil
		}),
		Evaluator: EvaluatorFunc(func([]*genotype.Genotype) { record("evaluate") }),
		FitnessCalculator: FitnessCalculatorFunc(func([]*genotype.Genotype) {
			record("fitness")
		}),
		Selector: SelectorFunc(func(_ *rand.Rand, p []*genotype.Genotype) ([]*genotype.Genotype, error) {
			record("select")
			return p, nil
		}),
		Recombiner: RecombinerFunc(func(_ *rand.Rand, p []*genotype.Genotype, size int) ([]*genotype.Genotype, error) {
			record("recombine")
			return p[:size], nil
		}),
		Mutator: MutatorFunc(func(*rand.Rand, []*genotype.Genotype) { record("mutate") }),
		Termination: TerminationFunc(func(int, []*genotype.Genotype) bool {
			record("terminate?")
			return false
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ga.OnFitnessCalculated(func([]*genotype.Genotype) { record("notify") })

	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("evaluation finished: %v", err)
	}

	want := []string{"initialize", "evaluate", "fitness", "notify", "terminate?", "select", "recombine", "mutate", "evaluate"}
	if !slices.Equal(calls, want) {
		t.Fatalf("unexpected operator order:\n got=%v\nwant=%v", calls, want)
	}
}

func TestFailedRecombinationKeepsPopulation(t *testing.T) {
	ga, err := New(Config{
		PopulationSize: 4,
		ParameterCount: 2,
		Seed:           2,
		Selector: SelectorFunc(func(*rand.Rand, []*genotype.Genotype) ([]*genotype.Genotype, error) {
			return nil, nil
		}),
		Recombiner: RandomRecombiner{SwapChance: DefaultSwapChance},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := ga.Population()
	scoreByFirstParameter(before)

	if err := ga.EvaluationFinished(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument from recombination, got %v", err)
	}
	after := ga.Population()
	if ga.State() != StateEvaluating || ga.GenerationCount() != 1 {
		t.Fatalf("unexpected state after failure: state=%s generation=%d", ga.State(), ga.GenerationCount())
	}
	for _, g := range before {
		if !slices.Contains(after, g) {
			t.Fatal("population replaced after failed generation")
		}
	}
}

func TestRetriedEvaluationNotifiesOncePerGeneration(t *testing.T) {
	failures := 1
	ga, err := New(Config{
		PopulationSize: 4,
		ParameterCount: 2,
		Seed:           3,
		Recombiner: RecombinerFunc(func(rng *rand.Rand, p []*genotype.Genotype, size int) ([]*genotype.Genotype, error) {
			if failures > 0 {
				failures--
				return nil, fmt.Errorf("%w: scripted failure", ErrInvalidArgument)
			}
			return RandomRecombiner{SwapChance: DefaultSwapChance}.Recombine(rng, p, size)
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var notified []int
	ga.OnFitnessCalculated(func([]*genotype.Genotype) {
		notified = append(notified, ga.GenerationCount())
	})
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	scoreByFirstParameter(ga.Population())

	if err := ga.EvaluationFinished(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ga.GenerationCount() != 2 {
		t.Fatalf("generation after retry: got=%d want=2", ga.GenerationCount())
	}
	scoreByFirstParameter(ga.Population())
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("generation 2: %v", err)
	}
	if !slices.Equal(notified, []int{1, 2}) {
		t.Fatalf("fitness notifications by generation: got=%v want=[1 2]", notified)
	}
}

func TestRecombinerSizeIsEnforced(t *testing.T) {
	ga, err := New(Config{
		PopulationSize: 4,
		ParameterCount: 2,
		Recombiner: RecombinerFunc(func(_ *rand.Rand, p []*genotype.Genotype, _ int) ([]*genotype.Genotype, error) {
			return p[:1], nil
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ga.EvaluationFinished(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for short population, got %v", err)
	}
}

func TestElitistWiringPreservesTopTwo(t *testing.T) {
	ga, err := New(Config{
		PopulationSize: 6,
		ParameterCount: 3,
		Seed:           8,
		Selector:       TopSelector{Count: 3},
		Recombiner:     RandomRecombiner{SwapChance: DefaultSwapChance},
		Mutator:        UniformMutator{Perc: 1, Prob: 1, Amount: 2, SkipBest: 2},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ga.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	scored := ga.Population()
	scoreByFirstParameter(scored)

	var best [][]float64
	ga.OnFitnessCalculated(func(p []*genotype.Genotype) {
		best = [][]float64{p[0].ParameterCopy(), p[1].ParameterCopy()}
	})
	if err := ga.EvaluationFinished(); err != nil {
		t.Fatalf("evaluation finished: %v", err)
	}

	next := ga.Population()
	if !slices.Equal(next[0].ParameterCopy(), best[0]) || !slices.Equal(next[1].ParameterCopy(), best[1]) {
		t.Fatalf("top two not carried unmutated: got %v %v want %v", next[0].ParameterCopy(), next[1].ParameterCopy(), best)
	}
}
