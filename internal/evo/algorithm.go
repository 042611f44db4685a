package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"

	"neuroevo/internal/genotype"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyRunning  = errors.New("genetic algorithm already started")
	ErrNotEvaluating   = errors.New("genetic algorithm is not waiting for an evaluation")
)

// State is the lifecycle position of a GeneticAlgorithm.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateEvaluating
	StateScoring
	StateRecombining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateEvaluating:
		return "evaluating"
	case StateScoring:
		return "scoring"
	case StateRecombining:
		return "recombining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config parameterizes a GeneticAlgorithm. Nil operators fall back to the
// package defaults.
type Config struct {
	PopulationSize int
	ParameterCount int
	// KeepUnsorted disables sorting the population by fitness after each
	// fitness calculation.
	KeepUnsorted bool
	Seed         int64
	// Rand overrides Seed when set.
	Rand   *rand.Rand
	Logger *slog.Logger

	Initializer       Initializer
	Evaluator         Evaluator
	FitnessCalculator FitnessCalculator
	Selector          Selector
	Recombiner        Recombiner
	Mutator           Mutator
	// Termination may be nil, in which case the algorithm never stops itself.
	Termination TerminationCheck
}

// GeneticAlgorithm drives a generational loop whose evaluation step is
// asynchronous: Start and every completed generation hand the population to
// the Evaluator and return, and the loop resumes only when the scorer calls
// EvaluationFinished.
type GeneticAlgorithm struct {
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	generation int
	population []*genotype.Genotype
	// notified is the last generation whose scored population reached the
	// fitness observers.
	notified int

	fitnessObservers    observers[[]*genotype.Genotype]
	terminatedObservers observers[*GeneticAlgorithm]
}

func New(cfg Config) (*GeneticAlgorithm, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", ErrInvalidArgument)
	}
	if cfg.ParameterCount < 0 {
		return nil, fmt.Errorf("%w: parameter count must be >= 0", ErrInvalidArgument)
	}
	if cfg.Initializer == nil {
		cfg.Initializer = UniformInitializer{Min: genotype.DefaultInitMin, Max: genotype.DefaultInitMax}
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = AsyncEvaluator{}
	}
	if cfg.FitnessCalculator == nil {
		cfg.FitnessCalculator = MeanNormalizedFitness{}
	}
	if cfg.Selector == nil {
		cfg.Selector = TopSelector{Count: 3}
	}
	if cfg.Recombiner == nil {
		cfg.Recombiner = FirstTwoRecombiner{SwapChance: DefaultSwapChance}
	}
	if cfg.Mutator == nil {
		cfg.Mutator = DefaultMutator()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	population := make([]*genotype.Genotype, cfg.PopulationSize)
	for i := range population {
		population[i] = genotype.Zero(cfg.ParameterCount)
	}

	return &GeneticAlgorithm{
		cfg:        cfg,
		rng:        rng,
		logger:     logger,
		state:      StateIdle,
		generation: 1,
		population: population,
	}, nil
}

func (ga *GeneticAlgorithm) PopulationSize() int {
	return ga.cfg.PopulationSize
}

func (ga *GeneticAlgorithm) SortPopulation() bool {
	return !ga.cfg.KeepUnsorted
}

// GenerationCount starts at 1 and grows by one per completed generation.
func (ga *GeneticAlgorithm) GenerationCount() int {
	ga.mu.Lock()
	defer ga.mu.Unlock()
	return ga.generation
}

func (ga *GeneticAlgorithm) State() State {
	ga.mu.Lock()
	defer ga.mu.Unlock()
	return ga.state
}

// Running reports whether Start was called and the run has not terminated.
func (ga *GeneticAlgorithm) Running() bool {
	s := ga.State()
	return s != StateIdle && s != StateTerminated
}

// Population returns a snapshot of the current generation. The genotypes
// are shared with the algorithm; only Evaluation may be written, and only
// while an evaluation is outstanding.
func (ga *GeneticAlgorithm) Population() []*genotype.Genotype {
	ga.mu.Lock()
	defer ga.mu.Unlock()
	return slices.Clone(ga.population)
}

// OnFitnessCalculated registers fn to receive the scored, possibly sorted,
// population once per generation, even when breeding fails and
// EvaluationFinished is called again. fn must not modify the genotypes.
func (ga *GeneticAlgorithm) OnFitnessCalculated(fn func([]*genotype.Genotype)) (unsubscribe func()) {
	return ga.fitnessObservers.add(fn)
}

// OnTerminated registers fn to run once when the termination check stops
// the run.
func (ga *GeneticAlgorithm) OnTerminated(fn func(*GeneticAlgorithm)) (unsubscribe func()) {
	return ga.terminatedObservers.add(fn)
}

// Start initializes the population and hands it to the Evaluator.
func (ga *GeneticAlgorithm) Start() error {
	ga.mu.Lock()
	if ga.state != StateIdle {
		state := ga.state
		ga.mu.Unlock()
		return fmt.Errorf("%w: state=%s", ErrAlreadyRunning, state)
	}
	ga.state = StateRunning
	population := ga.population
	ga.mu.Unlock()

	if err := ga.cfg.Initializer.Initialize(ga.rng, population); err != nil {
		ga.setState(StateIdle)
		return fmt.Errorf("initialize population: %w", err)
	}
	ga.logger.Debug("population initialized", "size", len(population), "parameters", ga.cfg.ParameterCount)

	ga.evaluate(population)
	return nil
}

// EvaluationFinished resumes the loop once every genotype of the current
// generation carries its final Evaluation. It scores the population,
// notifies observers, and either terminates or breeds and hands off the
// next generation. If an operator fails, the current population is kept and
// the algorithm stays ready for another EvaluationFinished; the retry does
// not notify fitness observers again for the same generation.
func (ga *GeneticAlgorithm) EvaluationFinished() error {
	ga.mu.Lock()
	if ga.state != StateEvaluating {
		state := ga.state
		ga.mu.Unlock()
		return fmt.Errorf("%w: state=%s", ErrNotEvaluating, state)
	}
	ga.state = StateScoring
	population := ga.population
	generation := ga.generation
	retry := ga.notified == generation
	ga.notified = generation
	ga.mu.Unlock()

	ga.cfg.FitnessCalculator.CalculateFitness(population)
	if ga.SortPopulation() {
		slices.SortStableFunc(population, genotype.ByFitness)
	}
	if !retry {
		ga.logScored(generation, population)
		ga.fitnessObservers.notify(slices.Clone(population))
	}

	if ga.cfg.Termination != nil && ga.cfg.Termination.ShouldTerminate(generation, population) {
		ga.setState(StateTerminated)
		ga.logger.Info("genetic algorithm terminated", "generation", generation)
		ga.terminatedObservers.notify(ga)
		return nil
	}

	ga.setState(StateRecombining)
	next, err := ga.breed(population)
	if err != nil {
		ga.setState(StateEvaluating)
		return fmt.Errorf("generation %d: %w", generation, err)
	}

	ga.mu.Lock()
	ga.population = next
	ga.generation++
	ga.mu.Unlock()

	ga.evaluate(next)
	return nil
}

func (ga *GeneticAlgorithm) breed(population []*genotype.Genotype) ([]*genotype.Genotype, error) {
	intermediate, err := ga.cfg.Selector.Select(ga.rng, population)
	if err != nil {
		return nil, fmt.Errorf("selection: %w", err)
	}
	next, err := ga.cfg.Recombiner.Recombine(ga.rng, intermediate, ga.cfg.PopulationSize)
	if err != nil {
		return nil, fmt.Errorf("recombination: %w", err)
	}
	if len(next) != ga.cfg.PopulationSize {
		return nil, fmt.Errorf("%w: recombination produced %d genotypes, want %d", ErrInvalidArgument, len(next), ga.cfg.PopulationSize)
	}
	for i, g := range next {
		if g.ParameterCount() != ga.cfg.ParameterCount {
			return nil, fmt.Errorf("%w: offspring %d has %d parameters, want %d", ErrInvalidArgument, i, g.ParameterCount(), ga.cfg.ParameterCount)
		}
	}
	ga.cfg.Mutator.Mutate(ga.rng, next)
	return next, nil
}

// evaluate must be called without holding mu: a synchronous Evaluator may
// call EvaluationFinished before returning.
func (ga *GeneticAlgorithm) evaluate(population []*genotype.Genotype) {
	ga.setState(StateEvaluating)
	ga.cfg.Evaluator.Evaluate(population)
}

func (ga *GeneticAlgorithm) setState(s State) {
	ga.mu.Lock()
	ga.state = s
	ga.mu.Unlock()
}

func (ga *GeneticAlgorithm) logScored(generation int, population []*genotype.Genotype) {
	if len(population) == 0 || !ga.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	best := slices.MaxFunc(population, func(a, b *genotype.Genotype) int {
		return b.Compare(a)
	})
	ga.logger.Debug("generation scored",
		"generation", generation,
		"best_fitness", best.Fitness,
		"best_evaluation", best.Evaluation,
	)
}

// observers is a subscription list notified in subscription order without
// holding its lock.
type observers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers[T]) notify(value T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for id := 0; id < o.next; id++ {
		if fn, ok := o.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}
