package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"neuroevo/internal/agent"
	"neuroevo/internal/config"
	"neuroevo/internal/genotype"
	"neuroevo/internal/metrics"
	"neuroevo/internal/nn"
	"neuroevo/internal/storage"
)

// scriptedTask scores agents by position and kills them on the calling
// goroutine. A nil score leaves every agent alive.
type scriptedTask struct {
	calls atomic.Int64
	score func(i int) float64
	hook  func(ctx context.Context, call int) error
}

func (*scriptedTask) Name() string { return "scripted" }
func (*scriptedTask) Inputs() int  { return 2 }
func (*scriptedTask) Outputs() int { return 1 }

func (t *scriptedTask) Run(ctx context.Context, agents []*agent.Agent) error {
	call := int(t.calls.Add(1))
	if t.hook != nil {
		if err := t.hook(ctx, call); err != nil {
			return err
		}
	}
	for i, a := range agents {
		if t.score == nil {
			continue
		}
		a.Genotype().Evaluation = t.score(i)
	}
	if t.score == nil {
		return nil
	}
	for _, a := range agents {
		a.Kill()
	}
	return nil
}

func testConfig() Config {
	return Config{
		PopulationSize:         6,
		Topology:               []int{2, 2, 1},
		Activation:             nn.SoftSign,
		InitMin:                -1,
		InitMax:                1,
		Seed:                   7,
		SortPopulation:         true,
		SwapChance:             0.6,
		MutationProbability:    0.3,
		MutationAmount:         2,
		ApplicationProbability: 1,
		SkipBest:               2,
		GenerationCap:          3,
		MaxRuns:                1,
		Logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func newManager(t *testing.T, cfg Config, task *scriptedTask, store storage.Store) *Manager {
	t.Helper()
	m, err := New(cfg, task, store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestRunTerminatesAtGenerationCap(t *testing.T) {
	store := newStore(t)
	task := &scriptedTask{score: func(i int) float64 { return float64(i) / 10 }}
	m := newManager(t, testConfig(), task, store)

	reports, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	report := reports[0]
	if !report.Terminated || report.Generations != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := task.calls.Load(); got != 3 {
		t.Fatalf("expected 3 evaluations, got %d", got)
	}
	if report.Best == nil || report.Best.Evaluation != 0.5 {
		t.Fatalf("expected best evaluation 0.5, got %+v", report.Best)
	}

	ctx := context.Background()
	run, ok, err := store.GetRun(ctx, report.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.Task != "scripted" || run.Seed != 7 || run.PopulationSize != 6 {
		t.Fatalf("unexpected run record: %+v", run)
	}
	history, ok, err := store.GetGenerationSummaries(ctx, report.RunID)
	if err != nil || !ok {
		t.Fatalf("get history: ok=%t err=%v", ok, err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(history))
	}
	for i, summary := range history {
		if summary.Generation != i+1 {
			t.Fatalf("summary %d has generation %d", i, summary.Generation)
		}
		if summary.BestEvaluation != 0.5 || summary.Finished != 0 {
			t.Fatalf("unexpected summary: %+v", summary)
		}
	}
	if m.GenerationCount() != 0 || m.AgentsAlive() != 0 {
		t.Fatal("expected no active run after Run returns")
	}
}

func TestRunSavesFirstFinishers(t *testing.T) {
	store := newStore(t)
	cfg := testConfig()
	cfg.SaveFirstN = 3
	task := &scriptedTask{score: func(int) float64 { return 2 }}
	m := newManager(t, cfg, task, store)

	reports, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{FinishedName(1), FinishedName(2), FinishedName(3)}
	if strings.Join(reports[0].Saved, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected saved names: %v", reports[0].Saved)
	}

	records, err := store.ListGenotypes(context.Background(), reports[0].RunID)
	if err != nil {
		t.Fatalf("list genotypes: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 saved genotypes, got %d", len(records))
	}
	for _, record := range records {
		if record.Generation != 1 || record.Evaluation != 2 || len(record.Parameters) != 9 {
			t.Fatalf("unexpected record: %+v", record)
		}
	}
	if records[0].Name != "Genotype - Finished as 1" {
		t.Fatalf("unexpected first name: %s", records[0].Name)
	}
}

func TestRunStopsSavingAtFirstUnfinishedGenotype(t *testing.T) {
	store := newStore(t)
	cfg := testConfig()
	cfg.SaveFirstN = 5
	cfg.GenerationCap = 2
	task := &scriptedTask{score: func(i int) float64 {
		if i == 0 {
			return 1
		}
		return 0.2
	}}
	m := newManager(t, cfg, task, store)

	reports, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reports[0].Saved) != 2 {
		t.Fatalf("expected one finisher per generation, got %v", reports[0].Saved)
	}
}

func TestRunRestartsAfterTermination(t *testing.T) {
	store := newStore(t)
	cfg := testConfig()
	cfg.GenerationCap = 2
	cfg.MaxRuns = 2
	cfg.RestartDelay = time.Millisecond
	task := &scriptedTask{score: func(i int) float64 { return float64(i) }}
	m := newManager(t, cfg, task, store)

	reports, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(reports))
	}
	if reports[0].RunID == reports[1].RunID {
		t.Fatal("expected distinct run ids")
	}
	if reports[0].Seed != 7 || reports[1].Seed != 8 {
		t.Fatalf("unexpected seeds: %d %d", reports[0].Seed, reports[1].Seed)
	}
	if got := task.calls.Load(); got != 4 {
		t.Fatalf("expected 4 evaluations, got %d", got)
	}
	runs, err := store.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 stored runs, got %d", len(runs))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.GenerationCap = 0
	cfg.MaxRuns = 0
	task := &scriptedTask{
		score: func(i int) float64 { return float64(i) },
		hook: func(ctx context.Context, call int) error {
			if call == 3 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	}
	m := newManager(t, cfg, task, newStore(t))

	reports, err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(reports) != 1 || reports[0].Terminated {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[0].Generations != 3 {
		t.Fatalf("expected cancellation during generation 3, got %d", reports[0].Generations)
	}
}

func TestRunSurfacesTaskError(t *testing.T) {
	boom := errors.New("boom")
	task := &scriptedTask{hook: func(context.Context, int) error { return boom }}
	m := newManager(t, testConfig(), task, newStore(t))

	reports, err := m.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
	if len(reports) != 1 || reports[0].Terminated {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestRunKillsAgentsTheTaskLeftAlive(t *testing.T) {
	cfg := testConfig()
	cfg.GenerationCap = 2
	task := &scriptedTask{}
	m := newManager(t, cfg, task, newStore(t))

	reports, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reports[0].Terminated || task.calls.Load() != 2 {
		t.Fatalf("expected two generations, got report=%+v calls=%d", reports[0], task.calls.Load())
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	recorder := metrics.NewRecorder()
	cfg := testConfig()
	cfg.Metrics = recorder
	cfg.SaveFirstN = 1
	task := &scriptedTask{score: func(int) float64 { return 1 }}
	m := newManager(t, cfg, task, newStore(t))

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	counts, err := testutil.GatherAndCount(recorder.Registry(),
		"neuroevo_runs_started_total", "neuroevo_generations_total", "neuroevo_terminations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if counts != 3 {
		t.Fatalf("expected 3 metric series, got %d", counts)
	}
	expected := `
# HELP neuroevo_agent_deaths_total Agent alive to dead transitions
# TYPE neuroevo_agent_deaths_total counter
neuroevo_agent_deaths_total 18
# HELP neuroevo_saved_genotypes_total Finished genotypes written to the store
# TYPE neuroevo_saved_genotypes_total counter
neuroevo_saved_genotypes_total 1
`
	if err := testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected),
		"neuroevo_agent_deaths_total", "neuroevo_saved_genotypes_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestNewRejectsMismatchedTopology(t *testing.T) {
	cfg := testConfig()
	cfg.Topology = []int{3, 1}
	if _, err := New(cfg, &scriptedTask{}, newStore(t)); err == nil {
		t.Fatal("expected topology error")
	}
	if _, err := New(testConfig(), nil, newStore(t)); err == nil {
		t.Fatal("expected missing task error")
	}
	cfg = testConfig()
	cfg.PopulationSize = 0
	if _, err := New(cfg, &scriptedTask{}, newStore(t)); err == nil {
		t.Fatal("expected population size error")
	}
}

func TestPaddedSelectorTopsUpEmptySelection(t *testing.T) {
	population := []*genotype.Genotype{
		genotype.New([]float64{1}),
		genotype.New([]float64{2}),
		genotype.New([]float64{3}),
	}
	selector := paddedSelector{inner: zeroSelector{}, min: 2}
	out, err := selector.Select(rand.New(rand.NewSource(1)), population)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(out) != 2 || out[0].At(0) != 1 || out[1].At(0) != 2 {
		t.Fatalf("unexpected padded selection: %v", out)
	}
	if out[0] == population[0] {
		t.Fatal("expected padded genotypes to be copies")
	}
}

type zeroSelector struct{}

func (zeroSelector) Select(*rand.Rand, []*genotype.Genotype) ([]*genotype.Genotype, error) {
	return nil, nil
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Selection.Elitist = true
	got, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if got.PopulationSize != 30 || got.GenerationCap != 100 || got.SkipBest != 2 || !got.Elitist {
		t.Fatalf("unexpected harness config: %+v", got)
	}
	if got.Activation(1) != nn.SoftSign(1) {
		t.Fatal("expected softsign activation")
	}

	cfg.Population.Activation = "nope"
	if _, err := FromConfig(cfg); !errors.Is(err, nn.ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	population := []*genotype.Genotype{genotype.Zero(1), genotype.Zero(1), genotype.Zero(1)}
	for i, e := range []float64{3, 1, 0.5} {
		population[i].Evaluation = e
		population[i].Fitness = e / 1.5
	}
	summary := summarize(4, population)
	if summary.Generation != 4 || summary.BestEvaluation != 3 || summary.Finished != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.MeanEvaluation != 1.5 || summary.BestFitness != 2 || summary.MinFitness != 0.5/1.5 {
		t.Fatalf("unexpected summary scores: %+v", summary)
	}
}
