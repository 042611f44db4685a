package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"neuroevo/internal/genotype"
	"neuroevo/internal/model"
)

const genotypeExt = ".txt"

// FileStore keeps each genotype as "<name>.txt" in dir using the plain
// ";"-joined parameter format, so saved files can be loaded by any tool that
// reads that format. Runs and generation summaries are JSON files under
// dir/runs and dir/history.
//
// The text format carries parameters only: genotypes loaded back have zero
// evaluation and fitness, no run ID, and ListGenotypes ignores its runID
// argument.
type FileStore struct {
	dir string

	mu sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Init(_ context.Context) error {
	if s.dir == "" {
		return errors.New("file store directory is required")
	}
	for _, dir := range []string{s.dir, s.runsDir(), s.historyDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) SaveGenotype(_ context.Context, record model.GenotypeRecord) error {
	path, err := s.genotypePath(record.Name)
	if err != nil {
		return err
	}
	return genotype.New(append([]float64(nil), record.Parameters...)).SaveToFile(path)
}

func (s *FileStore) GetGenotype(_ context.Context, name string) (model.GenotypeRecord, bool, error) {
	path, err := s.genotypePath(name)
	if err != nil {
		return model.GenotypeRecord{}, false, err
	}
	g, err := genotype.LoadFromFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.GenotypeRecord{}, false, nil
		}
		return model.GenotypeRecord{}, false, fmt.Errorf("load genotype %s: %w", name, err)
	}
	return s.recordFor(name, g), true, nil
}

func (s *FileStore) ListGenotypes(_ context.Context, _ string) ([]model.GenotypeRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []model.GenotypeRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != genotypeExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), genotypeExt)
		g, err := genotype.LoadFromFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load genotype %s: %w", name, err)
		}
		out = append(out, s.recordFor(name, g))
	}
	slices.SortFunc(out, func(a, b model.GenotypeRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *FileStore) SaveRun(_ context.Context, run model.RunRecord) error {
	if err := checkName(run.ID); err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	stamp(&run.VersionedRecord)
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.runsDir(), run.ID+".json"), payload, 0o644)
}

func (s *FileStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	if err := checkName(id); err != nil {
		return model.RunRecord{}, false, fmt.Errorf("run id: %w", err)
	}
	payload, err := os.ReadFile(filepath.Join(s.runsDir(), id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *FileStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		return nil, err
	}
	var out []model.RunRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		run, ok, err := s.GetRun(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, run)
		}
	}
	sortRuns(out)
	return out, nil
}

func (s *FileStore) AppendGenerationSummary(_ context.Context, runID string, summary model.GenerationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries, _, err := s.readSummaries(runID)
	if err != nil {
		return err
	}
	payload, err := EncodeGenerationSummaries(append(summaries, summary))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.historyDir(), runID+".json"), payload, 0o644)
}

func (s *FileStore) GetGenerationSummaries(_ context.Context, runID string) ([]model.GenerationSummary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSummaries(runID)
}

func (s *FileStore) readSummaries(runID string) ([]model.GenerationSummary, bool, error) {
	if err := checkName(runID); err != nil {
		return nil, false, fmt.Errorf("run id: %w", err)
	}
	payload, err := os.ReadFile(filepath.Join(s.historyDir(), runID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	summaries, err := DecodeGenerationSummaries(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode history %s: %w", runID, err)
	}
	return summaries, true, nil
}

func (s *FileStore) recordFor(name string, g *genotype.Genotype) model.GenotypeRecord {
	return model.GenotypeRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		Name:            name,
		Parameters:      g.ParameterCopy(),
	}
}

func (s *FileStore) genotypePath(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", fmt.Errorf("genotype name: %w", err)
	}
	return filepath.Join(s.dir, name+genotypeExt), nil
}

func (s *FileStore) runsDir() string {
	return filepath.Join(s.dir, "runs")
}

func (s *FileStore) historyDir() string {
	return filepath.Join(s.dir, "history")
}

func checkName(name string) error {
	if name == "" {
		return errors.New("must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
