package replay

import (
	"time"

	"github.com/google/uuid"
)

// EngineVersion is stamped into every manifest and summary.
const EngineVersion = "1.0.0"

// RunManifest pins down what a run processed so results can be reproduced
// and compared: same dataset hash + same config hash = same trades.
type RunManifest struct {
	RunID         string    `json:"run_id"`
	EngineVersion string    `json:"engine_version"`
	Mode          string    `json:"mode"`
	Strategies    []string  `json:"strategies"`
	Symbols       []string  `json:"symbols"`
	FromTs        int64     `json:"from_ts"`
	ToTs          int64     `json:"to_ts"`
	Bars          int       `json:"bars"`
	DatasetHash   string    `json:"dataset_hash"`
	ConfigHash    string    `json:"config_hash,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ElapsedMs     int64     `json:"elapsed_ms"`
}

func newManifest(mode string, strategies, symbols []string) RunManifest {
	return RunManifest{
		RunID:         uuid.NewString(),
		EngineVersion: EngineVersion,
		Mode:          mode,
		Strategies:    strategies,
		Symbols:       symbols,
		StartedAt:     time.Now().UTC(),
	}
}
