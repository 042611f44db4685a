package neuroevo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"neuroevo/internal/agent"
	"neuroevo/internal/config"
	"neuroevo/internal/genotype"
	"neuroevo/internal/harness"
	"neuroevo/internal/metrics"
	"neuroevo/internal/model"
	"neuroevo/internal/nn"
	"neuroevo/internal/scape"
	"neuroevo/internal/storage"
)

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	// StoreKind is memory, file or sqlite. Empty uses memory.
	StoreKind string
	StorePath string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// RunRequest selects a configuration file and overrides on top of it. Zero
// fields keep the configured value.
type RunRequest struct {
	ConfigPath  string
	Task        string
	Population  int
	Topology    []int
	Generations int
	Seed        int64
	Runs        int
	SaveFirstN  int
	Elitist     bool
}

type RunSummary struct {
	RunID          string
	Seed           int64
	Generations    int
	Terminated     bool
	BestEvaluation float64
	BestParameters []float64
	Saved          []string
}

type RunResult struct {
	Runs []RunSummary
}

type HistoryRequest struct {
	RunID  string
	Latest bool
}

// EvaluateRequest scores one stored genotype on a task. Task, Topology and
// Activation default to the configuration found at ConfigPath, or the
// built-in defaults.
type EvaluateRequest struct {
	Name       string
	ConfigPath string
	Task       string
	Topology   []int
	Activation string
}

func New(opts Options) (*Client, error) {
	kind := opts.StoreKind
	if kind == "" {
		kind = "memory"
	}
	store, err := storage.NewStore(kind, opts.StorePath)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{store: store, logger: logger, metrics: opts.Metrics}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Run evolves networks for the requested task until the configured number
// of runs terminate or ctx is cancelled. On cancellation the runs started so
// far are returned together with the context error.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	cfg, err := loadConfig(req.ConfigPath)
	if err != nil {
		return RunResult{}, err
	}
	applyOverrides(&cfg, req)
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}

	task, err := scape.New(cfg.Task.Name, cfg.Task.Steps, cfg.Task.Workers)
	if err != nil {
		return RunResult{}, err
	}
	hcfg, err := harness.FromConfig(cfg)
	if err != nil {
		return RunResult{}, err
	}
	hcfg.Logger = c.logger
	hcfg.Metrics = c.metrics
	manager, err := harness.New(hcfg, task, c.store)
	if err != nil {
		return RunResult{}, err
	}

	reports, runErr := manager.Run(ctx)
	result := RunResult{Runs: make([]RunSummary, 0, len(reports))}
	for _, report := range reports {
		summary := RunSummary{
			RunID:       report.RunID,
			Seed:        report.Seed,
			Generations: report.Generations,
			Terminated:  report.Terminated,
			Saved:       report.Saved,
		}
		if report.Best != nil {
			summary.BestEvaluation = report.Best.Evaluation
			summary.BestParameters = report.Best.ParameterCopy()
		}
		result.Runs = append(result.Runs, summary)
	}
	return result, runErr
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context) ([]model.RunRecord, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	return runs, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetGenerationSummaries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no history for %s", ErrRunNotFound, runID)
	}
	return history, nil
}

func (c *Client) Genotypes(ctx context.Context, runID string) ([]model.GenotypeRecord, error) {
	return c.store.ListGenotypes(ctx, runID)
}

func (c *Client) Genotype(ctx context.Context, name string) (model.GenotypeRecord, bool, error) {
	return c.store.GetGenotype(ctx, name)
}

// Evaluate runs one stored genotype through the task once and returns its
// evaluation.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (float64, error) {
	cfg, err := loadConfig(req.ConfigPath)
	if err != nil {
		return 0, err
	}
	if req.Task != "" {
		cfg.Task.Name = req.Task
	}
	if len(req.Topology) > 0 {
		cfg.Population.Topology = req.Topology
	}
	if req.Activation != "" {
		cfg.Population.Activation = strings.ToLower(req.Activation)
	}

	record, ok, err := c.store.GetGenotype(ctx, req.Name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("genotype %q not found", req.Name)
	}
	task, err := scape.New(cfg.Task.Name, cfg.Task.Steps, cfg.Task.Workers)
	if err != nil {
		return 0, err
	}
	if err := scape.CheckTopology(task, cfg.Population.Topology); err != nil {
		return 0, err
	}
	activation, err := nn.GetActivation(cfg.Population.Activation)
	if err != nil {
		return 0, err
	}

	g := genotype.New(record.Parameters)
	a, err := agent.New(g, activation, cfg.Population.Topology...)
	if err != nil {
		return 0, err
	}
	a.Reset()
	if err := task.Run(ctx, []*agent.Agent{a}); err != nil {
		return 0, err
	}
	return g.Evaluation, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id is required unless latest is set")
	}
	runs, err := c.Runs(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("%w: store has no runs", ErrRunNotFound)
	}
	return runs[0].ID, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyOverrides(cfg *config.Config, req RunRequest) {
	if req.Task != "" {
		cfg.Task.Name = strings.ToLower(req.Task)
	}
	if req.Population > 0 {
		cfg.Population.Size = req.Population
	}
	if len(req.Topology) > 0 {
		cfg.Population.Topology = append([]int(nil), req.Topology...)
	}
	if req.Generations > 0 {
		cfg.Termination.GenerationCap = req.Generations
	}
	if req.Seed != 0 {
		cfg.Population.Seed = req.Seed
	}
	if req.Runs > 0 {
		cfg.Harness.MaxRuns = req.Runs
	}
	if req.SaveFirstN > 0 {
		cfg.Harness.SaveFirstN = req.SaveFirstN
	}
	if req.Elitist {
		cfg.Selection.Elitist = true
	}
}
