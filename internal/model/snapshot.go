package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the persisted model state: at most one classifier, at most
// one anomaly model, the fitted scaler and the trained flag.
type Snapshot struct {
	RandomForest    *RandomForest    `json:"rf_model"`
	IsolationForest *IsolationForest `json:"isolation_model"`
	Scaler          *Scaler          `json:"scaler"`
	IsTrained       bool             `json:"is_trained"`

	Columns       []string  `json:"columns,omitempty"`
	SchemaVersion int       `json:"schema_version,omitempty"`
	TrainedAt     time.Time `json:"trained_at,omitzero"`
}

// validate checks the internal consistency of a loaded snapshot.
func (s *Snapshot) validate() error {
	if !s.IsTrained {
		return nil
	}
	if s.RandomForest == nil && s.IsolationForest == nil {
		// trained flag without a model is answered as NO_MODEL
		return nil
	}
	if s.Scaler == nil {
		return fmt.Errorf("%w: snapshot has a model but no scaler", ErrDimension)
	}
	width := len(s.Columns)
	if width == 0 {
		width = len(CanonicalFeatures)
	}
	if len(s.Scaler.Mean) != width || len(s.Scaler.Scale) != width {
		return fmt.Errorf("%w: scaler width %d, expected %d", ErrDimension, len(s.Scaler.Mean), width)
	}
	if s.RandomForest != nil && s.RandomForest.Features != width {
		return fmt.Errorf("%w: forest width %d, expected %d", ErrDimension, s.RandomForest.Features, width)
	}
	if s.IsolationForest != nil && s.IsolationForest.Features != width {
		return fmt.Errorf("%w: isolation forest width %d, expected %d", ErrDimension, s.IsolationForest.Features, width)
	}
	return nil
}

// columns returns the feature order the snapshot was trained on.
func (s *Snapshot) columns() []string {
	if len(s.Columns) > 0 {
		return s.Columns
	}
	return CanonicalFeatures
}

// SaveSnapshot writes s to path atomically: encode to a temp file in the
// same directory, sync, then rename over the target. The directory is
// created if absent.
func SaveSnapshot(path string, s *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if err := json.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads and validates a snapshot. A missing file returns an
// error wrapping os.ErrNotExist.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &s, nil
}
