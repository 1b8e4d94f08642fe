package storage

import (
	"encoding/json"
	"fmt"

	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/telemetry"
)

// EncodeGenotype serializes a genotype to its archive payload.
func EncodeGenotype(gt *genome.Genotype) ([]byte, error) {
	if gt == nil {
		return nil, fmt.Errorf("encode genotype: nil genotype")
	}
	return json.Marshal(gt)
}

// DecodeGenotype parses an archive payload back into a genotype.
func DecodeGenotype(payload []byte) (*genome.Genotype, error) {
	var gt genome.Genotype
	if err := json.Unmarshal(payload, &gt); err != nil {
		return nil, err
	}
	return &gt, nil
}

// EncodeEpoch serializes one history row.
func EncodeEpoch(stats telemetry.EpochStats) ([]byte, error) {
	return json.Marshal(stats)
}

// DecodeEpoch parses one history row.
func DecodeEpoch(payload []byte) (telemetry.EpochStats, error) {
	var stats telemetry.EpochStats
	err := json.Unmarshal(payload, &stats)
	return stats, err
}
