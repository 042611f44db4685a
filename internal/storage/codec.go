package storage

import (
	"encoding/json"
	"errors"

	"neuroevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeGenotype(record model.GenotypeRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeGenotype(data []byte) (model.GenotypeRecord, error) {
	var record model.GenotypeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.GenotypeRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.GenotypeRecord{}, err
	}
	return record, nil
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeGenerationSummaries(summaries []model.GenerationSummary) ([]byte, error) {
	return json.Marshal(summaries)
}

func DecodeGenerationSummaries(data []byte) ([]model.GenerationSummary, error) {
	var summaries []model.GenerationSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
