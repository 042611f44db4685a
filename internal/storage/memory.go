package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"neuroevo/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genotypes   map[string]model.GenotypeRecord
	runs        map[string]model.RunRecord
	summaries   map[string][]model.GenerationSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.genotypes = make(map[string]model.GenotypeRecord)
	s.runs = make(map[string]model.RunRecord)
	s.summaries = make(map[string][]model.GenerationSummary)
	return nil
}

func (s *MemoryStore) SaveGenotype(_ context.Context, record model.GenotypeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if record.Name == "" {
		return errors.New("genotype name is required")
	}
	stamp(&record.VersionedRecord)
	record.Parameters = append([]float64(nil), record.Parameters...)
	s.genotypes[record.Name] = record
	return nil
}

func (s *MemoryStore) GetGenotype(_ context.Context, name string) (model.GenotypeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.genotypes[name]
	if !ok {
		return model.GenotypeRecord{}, false, nil
	}
	record.Parameters = append([]float64(nil), record.Parameters...)
	return record, true, nil
}

func (s *MemoryStore) ListGenotypes(_ context.Context, runID string) ([]model.GenotypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.GenotypeRecord, 0, len(s.genotypes))
	for _, record := range s.genotypes {
		if runID != "" && record.RunID != runID {
			continue
		}
		record.Parameters = append([]float64(nil), record.Parameters...)
		out = append(out, record)
	}
	slices.SortFunc(out, func(a, b model.GenotypeRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	stamp(&run.VersionedRecord)
	run.Topology = append([]int(nil), run.Topology...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	run.Topology = append([]int(nil), run.Topology...)
	return run, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		run.Topology = append([]int(nil), run.Topology...)
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) AppendGenerationSummary(_ context.Context, runID string, summary model.GenerationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.summaries[runID] = append(s.summaries[runID], summary)
	return nil
}

func (s *MemoryStore) GetGenerationSummaries(_ context.Context, runID string) ([]model.GenerationSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries, ok := s.summaries[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationSummary, len(summaries))
	copy(copied, summaries)
	return copied, true, nil
}

// sortRuns orders runs oldest first, breaking ties by ID.
func sortRuns(runs []model.RunRecord) {
	slices.SortFunc(runs, func(a, b model.RunRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
