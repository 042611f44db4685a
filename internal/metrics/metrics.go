package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"

	"neuroevo/internal/evo"
	"neuroevo/internal/genotype"
)

// Recorder holds the collectors for one process. Each Recorder owns its
// registry so tests and embedded runs do not collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	generations        prometheus.Counter
	generation         prometheus.Gauge
	bestFitness        prometheus.Gauge
	bestEvaluation     prometheus.Gauge
	meanEvaluation     prometheus.Gauge
	terminations       prometheus.Counter
	runs               prometheus.Counter
	agentDeaths        prometheus.Counter
	savedGenotypes     prometheus.Counter
	generationDuration prometheus.Histogram
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		generations: factory.NewCounter(prometheus.CounterOpts{
			Name: "neuroevo_generations_total",
			Help: "Generations scored across all runs",
		}),
		generation: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neuroevo_generation",
			Help: "Generation count of the current run",
		}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neuroevo_best_fitness",
			Help: "Highest fitness in the last scored generation",
		}),
		bestEvaluation: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neuroevo_best_evaluation",
			Help: "Highest raw evaluation in the last scored generation",
		}),
		meanEvaluation: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neuroevo_mean_evaluation",
			Help: "Mean raw evaluation of the last scored generation",
		}),
		terminations: factory.NewCounter(prometheus.CounterOpts{
			Name: "neuroevo_terminations_total",
			Help: "Runs stopped by their termination check",
		}),
		runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "neuroevo_runs_started_total",
			Help: "Genetic algorithm runs started",
		}),
		agentDeaths: factory.NewCounter(prometheus.CounterOpts{
			Name: "neuroevo_agent_deaths_total",
			Help: "Agent alive to dead transitions",
		}),
		savedGenotypes: factory.NewCounter(prometheus.CounterOpts{
			Name: "neuroevo_saved_genotypes_total",
			Help: "Finished genotypes written to the store",
		}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "neuroevo_generation_duration_seconds",
			Help:    "Wall time from handing a generation to the task until it is scored",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

// Attach subscribes to ga's fitness and termination notifications.
func (r *Recorder) Attach(ga *evo.GeneticAlgorithm) (detach func()) {
	stopFitness := ga.OnFitnessCalculated(func(population []*genotype.Genotype) {
		r.ObserveGeneration(ga.GenerationCount(), population)
	})
	stopTerminated := ga.OnTerminated(func(*evo.GeneticAlgorithm) {
		r.terminations.Inc()
	})
	return func() {
		stopFitness()
		stopTerminated()
	}
}

// ObserveGeneration records the scores of one scored generation.
func (r *Recorder) ObserveGeneration(generation int, population []*genotype.Genotype) {
	r.generations.Inc()
	r.generation.Set(float64(generation))
	if len(population) == 0 {
		return
	}
	evaluations := evo.Evaluations(population)
	bestFitness := population[0].Fitness
	bestEvaluation := evaluations[0]
	for i, g := range population {
		bestFitness = max(bestFitness, g.Fitness)
		bestEvaluation = max(bestEvaluation, evaluations[i])
	}
	r.bestFitness.Set(bestFitness)
	r.bestEvaluation.Set(bestEvaluation)
	r.meanEvaluation.Set(stat.Mean(evaluations, nil))
}

func (r *Recorder) ObserveGenerationDuration(d time.Duration) {
	r.generationDuration.Observe(d.Seconds())
}

func (r *Recorder) RunStarted() {
	r.runs.Inc()
}

func (r *Recorder) AgentDied() {
	r.agentDeaths.Inc()
}

func (r *Recorder) GenotypeSaved() {
	r.savedGenotypes.Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
