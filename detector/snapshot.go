package detector

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is an immutable, versioned bundle of a trained isolation
// forest plus its training metadata. Never mutated after publication;
// readers hold whichever snapshot pointer was active when they loaded
// it, so a retrain can publish a replacement without coordination.
type Snapshot struct {
	Version      string           `json:"version"`
	TrainedAt    time.Time        `json:"trained_at"`
	TrainingSize int              `json:"training_size"`
	WindowDays   int              `json:"window_days"`
	Forest       *IsolationForest `json:"forest"`
}

// Age returns how long ago the snapshot was trained.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.TrainedAt)
}

// Marshal serializes the snapshot for the shared cache.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot deserializes and validates a snapshot blob. A blob
// that fails validation is rejected outright rather than partially
// loaded.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot decode failed: %w", err)
	}
	if s.Version == "" {
		return nil, fmt.Errorf("snapshot missing version")
	}
	if s.Forest == nil {
		return nil, fmt.Errorf("snapshot missing forest")
	}
	if err := s.Forest.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot forest invalid: %w", err)
	}
	return &s, nil
}
