package storage

import (
	"context"

	"neuroevo/internal/model"
)

// Store persists genotypes, run descriptions and per-generation summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveGenotype(ctx context.Context, record model.GenotypeRecord) error
	GetGenotype(ctx context.Context, name string) (model.GenotypeRecord, bool, error)
	// ListGenotypes returns records ordered by name. An empty runID lists
	// every genotype.
	ListGenotypes(ctx context.Context, runID string) ([]model.GenotypeRecord, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	AppendGenerationSummary(ctx context.Context, runID string, summary model.GenerationSummary) error
	GetGenerationSummaries(ctx context.Context, runID string) ([]model.GenerationSummary, bool, error)
}

// stamp fills in the current versions on records saved without them.
func stamp(v *model.VersionedRecord) {
	if v.SchemaVersion == 0 && v.CodecVersion == 0 {
		v.SchemaVersion = CurrentSchemaVersion
		v.CodecVersion = CurrentCodecVersion
	}
}
