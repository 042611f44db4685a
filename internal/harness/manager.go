package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"neuroevo/internal/agent"
	"neuroevo/internal/evo"
	"neuroevo/internal/genotype"
	"neuroevo/internal/metrics"
	"neuroevo/internal/model"
	"neuroevo/internal/nn"
	"neuroevo/internal/scape"
	"neuroevo/internal/storage"
)

const finishedNamePrefix = "Genotype - Finished as "

// FinishedName is the store name of the n-th genotype of a run that
// completed its task, counting from 1.
func FinishedName(n int) string {
	return fmt.Sprintf("%s%d", finishedNamePrefix, n)
}

// RunReport describes one genetic algorithm run.
type RunReport struct {
	RunID       string
	Seed        int64
	Generations int
	Terminated  bool
	// Best is a copy of the genotype with the highest evaluation seen.
	Best  *genotype.Genotype
	Saved []string
}

// Manager runs the evolution loop: it turns every generation into agents,
// hands them to the task, and reports the generation back to the genetic
// algorithm once the last agent dies. Terminated runs are restarted with a
// fresh algorithm after RestartDelay.
type Manager struct {
	cfg    Config
	task   scape.Task
	store  storage.Store
	logger *slog.Logger

	current atomic.Pointer[run]
}

func New(cfg Config, task scape.Task, store storage.Store) (*Manager, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := scape.CheckTopology(task, cfg.Topology); err != nil {
		return nil, err
	}
	if cfg.Activation == nil {
		cfg.Activation = nn.SoftSign
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, task: task, store: store, logger: logger}, nil
}

// GenerationCount is the generation of the active run, or 0 between runs.
func (m *Manager) GenerationCount() int {
	if r := m.current.Load(); r != nil {
		return r.ga.GenerationCount()
	}
	return 0
}

// AgentsAlive counts the agents of the active generation still running.
func (m *Manager) AgentsAlive() int {
	if r := m.current.Load(); r != nil {
		return int(r.alive.Load())
	}
	return 0
}

// Run executes runs until MaxRuns have terminated, a run fails, or ctx is
// cancelled. Reports of started runs are returned in every case.
func (m *Manager) Run(ctx context.Context) ([]RunReport, error) {
	var reports []RunReport
	for index := 0; m.cfg.MaxRuns == 0 || index < m.cfg.MaxRuns; index++ {
		if index > 0 {
			m.logger.Info("restarting evolution", "run", index+1, "delay", m.cfg.RestartDelay)
			timer := time.NewTimer(m.cfg.RestartDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return reports, ctx.Err()
			case <-timer.C:
			}
		}
		report, err := m.runOnce(ctx, index)
		if report.RunID != "" {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (m *Manager) runOnce(ctx context.Context, index int) (RunReport, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		m:       m,
		ctx:     runCtx,
		id:      uuid.NewString(),
		seed:    m.cfg.seedFor(index),
		done:    make(chan struct{}),
		failed:  make(chan error, 1),
		metrics: m.cfg.Metrics,
	}
	r.logger = m.logger.With("run_id", r.id)

	ga, err := evo.New(m.cfg.algorithmConfig(r.seed, r.logger, evo.EvaluatorFunc(r.evaluate)))
	if err != nil {
		return RunReport{}, err
	}
	r.ga = ga

	persistCtx := context.WithoutCancel(ctx)
	if err := m.store.SaveRun(persistCtx, model.RunRecord{
		ID:             r.id,
		Task:           m.task.Name(),
		Topology:       append([]int(nil), m.cfg.Topology...),
		PopulationSize: m.cfg.PopulationSize,
		Seed:           r.seed,
		StartedAt:      time.Now().UTC(),
	}); err != nil {
		return RunReport{}, fmt.Errorf("save run %s: %w", r.id, err)
	}

	stopFitness := ga.OnFitnessCalculated(r.onFitnessCalculated)
	stopTerminated := ga.OnTerminated(func(*evo.GeneticAlgorithm) {
		close(r.done)
	})
	detachMetrics := func() {}
	if r.metrics != nil {
		r.metrics.RunStarted()
		detachMetrics = r.metrics.Attach(ga)
	}
	m.current.Store(r)
	defer func() {
		m.current.CompareAndSwap(r, nil)
		stopFitness()
		stopTerminated()
		detachMetrics()
	}()

	r.logger.Info("evolution started", "task", m.task.Name(), "population", m.cfg.PopulationSize,
		"topology", m.cfg.Topology, "parameters", nn.WeightCount(m.cfg.Topology), "seed", r.seed)
	if err := ga.Start(); err != nil {
		return r.report(false), err
	}

	select {
	case <-r.done:
		r.wg.Wait()
		r.logger.Info("evolution finished", "generations", ga.GenerationCount(), "saved", len(r.saved))
		return r.report(true), nil
	case err := <-r.failed:
		r.stop(cancel)
		return r.report(false), err
	case <-ctx.Done():
		r.stop(cancel)
		return r.report(false), ctx.Err()
	}
}

// run holds the state of one genetic algorithm between generations.
type run struct {
	m       *Manager
	ctx     context.Context
	id      string
	seed    int64
	ga      *evo.GeneticAlgorithm
	logger  *slog.Logger
	metrics *metrics.Recorder

	alive     atomic.Int64
	stopped   atomic.Bool
	startedAt atomic.Int64
	wg        sync.WaitGroup
	done      chan struct{}
	failed    chan error

	mu    sync.Mutex
	best  *genotype.Genotype
	saved []string
}

func (r *run) evaluate(population []*genotype.Genotype) {
	if r.stopped.Load() {
		return
	}
	agents := make([]*agent.Agent, len(population))
	for i, g := range population {
		a, err := agent.New(g, r.m.cfg.Activation, r.m.cfg.Topology...)
		if err != nil {
			r.fail(fmt.Errorf("build agent %d: %w", i, err))
			return
		}
		agents[i] = a
	}

	r.alive.Store(int64(len(agents)))
	r.startedAt.Store(time.Now().UnixNano())
	for _, a := range agents {
		a.Reset()
		a.Subscribe(r.onAgentDied)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.m.task.Run(r.ctx, agents); err != nil {
			if r.ctx.Err() == nil {
				r.fail(fmt.Errorf("%s task: %w", r.m.task.Name(), err))
			}
			return
		}
		// Agents the task left running end with the episode.
		for _, a := range agents {
			a.Kill()
		}
	}()
}

func (r *run) onAgentDied(*agent.Agent) {
	if r.metrics != nil {
		r.metrics.AgentDied()
	}
	if r.alive.Add(-1) != 0 || r.stopped.Load() {
		return
	}
	if err := r.ga.EvaluationFinished(); err != nil {
		r.fail(err)
	}
}

func (r *run) onFitnessCalculated(population []*genotype.Genotype) {
	generation := r.ga.GenerationCount()
	if r.metrics != nil {
		r.metrics.ObserveGenerationDuration(time.Since(time.Unix(0, r.startedAt.Load())))
	}

	summary := summarize(generation, population)
	r.logger.Info("generation evaluated",
		"generation", generation,
		"best_evaluation", summary.BestEvaluation,
		"mean_evaluation", summary.MeanEvaluation,
		"finished", summary.Finished)

	persistCtx := context.WithoutCancel(r.ctx)
	if err := r.m.store.AppendGenerationSummary(persistCtx, r.id, summary); err != nil {
		r.fail(fmt.Errorf("append generation %d summary: %w", generation, err))
		return
	}
	r.trackBest(population)
	if err := r.saveFinished(persistCtx, generation, population); err != nil {
		r.fail(err)
	}
}

// saveFinished stores genotypes from the head of the population while their
// evaluation is at least 1, until SaveFirstN have been saved in this run.
func (r *run) saveFinished(ctx context.Context, generation int, population []*genotype.Genotype) error {
	for _, g := range population {
		r.mu.Lock()
		full := len(r.saved) >= r.m.cfg.SaveFirstN
		r.mu.Unlock()
		if full || g.Evaluation < 1 {
			return nil
		}

		r.mu.Lock()
		name := FinishedName(len(r.saved) + 1)
		r.saved = append(r.saved, name)
		r.mu.Unlock()

		if err := r.m.store.SaveGenotype(ctx, model.GenotypeRecord{
			Name:       name,
			RunID:      r.id,
			Generation: generation,
			Evaluation: g.Evaluation,
			Fitness:    g.Fitness,
			Parameters: g.ParameterCopy(),
			SavedAt:    time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		if r.metrics != nil {
			r.metrics.GenotypeSaved()
		}
		r.logger.Info("finished genotype saved", "name", name, "generation", generation, "evaluation", g.Evaluation)
	}
	return nil
}

func (r *run) trackBest(population []*genotype.Genotype) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range population {
		if r.best == nil || g.Evaluation > r.best.Evaluation {
			r.best = g.Clone()
		}
	}
}

func (r *run) fail(err error) {
	select {
	case r.failed <- err:
	default:
	}
}

// stop detaches the run from agent deaths, cancels the running task and
// waits for it to return.
func (r *run) stop(cancel context.CancelFunc) {
	r.stopped.Store(true)
	cancel()
	r.wg.Wait()
}

func (r *run) report(terminated bool) RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := RunReport{
		RunID:       r.id,
		Seed:        r.seed,
		Generations: r.ga.GenerationCount(),
		Terminated:  terminated,
		Saved:       append([]string(nil), r.saved...),
	}
	if r.best != nil {
		report.Best = r.best.Clone()
	}
	return report
}

func summarize(generation int, population []*genotype.Genotype) model.GenerationSummary {
	summary := model.GenerationSummary{Generation: generation}
	if len(population) == 0 {
		return summary
	}
	evaluations := evo.Evaluations(population)
	fitnesses := evo.Fitnesses(population)
	summary.BestFitness = math.Inf(-1)
	summary.MinFitness = math.Inf(1)
	summary.BestEvaluation = math.Inf(-1)
	for i := range population {
		summary.BestFitness = max(summary.BestFitness, fitnesses[i])
		summary.MinFitness = min(summary.MinFitness, fitnesses[i])
		summary.BestEvaluation = max(summary.BestEvaluation, evaluations[i])
		if evaluations[i] >= 1 {
			summary.Finished++
		}
	}
	summary.MeanFitness = stat.Mean(fitnesses, nil)
	summary.MeanEvaluation = stat.Mean(evaluations, nil)
	return summary
}
