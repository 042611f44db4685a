package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GenotypeRecord is a persisted genotype. Name is unique within a store;
// finished genotypes use names like "Genotype - Finished as 1".
type GenotypeRecord struct {
	VersionedRecord
	Name       string    `json:"name"`
	RunID      string    `json:"run_id,omitempty"`
	Generation int       `json:"generation,omitempty"`
	Evaluation float64   `json:"evaluation"`
	Fitness    float64   `json:"fitness"`
	Parameters []float64 `json:"parameters"`
	SavedAt    time.Time `json:"saved_at"`
}

// RunRecord describes one run of the genetic algorithm.
type RunRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	Task           string    `json:"task"`
	Topology       []int     `json:"topology"`
	PopulationSize int       `json:"population_size"`
	Seed           int64     `json:"seed"`
	StartedAt      time.Time `json:"started_at"`
}

// GenerationSummary is the per-generation outcome recorded after fitness
// calculation.
type GenerationSummary struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	MeanFitness    float64 `json:"mean_fitness"`
	MinFitness     float64 `json:"min_fitness"`
	BestEvaluation float64 `json:"best_evaluation"`
	MeanEvaluation float64 `json:"mean_evaluation"`
	Finished       int     `json:"finished"`
}
