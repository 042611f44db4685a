//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"neuroevo/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveGenotype(ctx context.Context, record model.GenotypeRecord) error {
	if record.Name == "" {
		return errors.New("genotype name is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	stamp(&record.VersionedRecord)
	payload, err := EncodeGenotype(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genotypes (name, run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			run_id = excluded.run_id,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.Name, record.RunID, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetGenotype(ctx context.Context, name string) (model.GenotypeRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.GenotypeRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM genotypes WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.GenotypeRecord{}, false, nil
		}
		return model.GenotypeRecord{}, false, err
	}

	record, err := DecodeGenotype(payload)
	if err != nil {
		return model.GenotypeRecord{}, false, fmt.Errorf("decode genotype %s: %w", name, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListGenotypes(ctx context.Context, runID string) ([]model.GenotypeRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name, payload FROM genotypes
		WHERE ? = '' OR run_id = ?
		ORDER BY name
	`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GenotypeRecord
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeGenotype(payload)
		if err != nil {
			return nil, fmt.Errorf("decode genotype %s: %w", name, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	stamp(&run.VersionedRecord)
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(out)
	return out, nil
}

// AppendGenerationSummary stores one row per (run, generation). Saving the
// same generation twice replaces the earlier summary.
func (s *SQLiteStore) AppendGenerationSummary(ctx context.Context, runID string, summary model.GenerationSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGenerationSummaries([]model.GenerationSummary{summary})
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO generation_summaries (run_id, generation, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, generation) DO UPDATE SET
			payload = excluded.payload
	`, runID, summary.Generation, payload)
	return err
}

func (s *SQLiteStore) GetGenerationSummaries(ctx context.Context, runID string) ([]model.GenerationSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT payload FROM generation_summaries
		WHERE run_id = ?
		ORDER BY generation
	`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []model.GenerationSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, false, err
		}
		decoded, err := DecodeGenerationSummaries(payload)
		if err != nil {
			return nil, false, fmt.Errorf("decode history %s: %w", runID, err)
		}
		out = append(out, decoded...)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS genotypes (
			name TEXT PRIMARY KEY,
			run_id TEXT NOT NULL DEFAULT '',
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS genotypes_run_id ON genotypes (run_id);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS generation_summaries (
			run_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, generation)
		);
	`)
	return err
}
