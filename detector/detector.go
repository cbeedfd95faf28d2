package detector

import (
	"log"
	"math"

	"review-pulse/config"
	"review-pulse/stats"
)

// ScoreBreakdown is one anomaly evaluation with its contributing
// sub-scores. Combined is always in [0,1].
type ScoreBreakdown struct {
	Combined   float64  `json:"combined"`
	StatScore  float64  `json:"stat_score"`
	ModelScore float64  `json:"model_score"`
	ZScore     *float64 `json:"z_score,omitempty"`
	ModelUsed  bool     `json:"model_used"`
	Evaluable  bool     `json:"evaluable"`
}

// SnapshotProvider hands out the currently active model snapshot, or
// nil before the first training completes.
type SnapshotProvider interface {
	Active() *Snapshot
}

// Detector combines the statistical and model-based outlier components.
// It is a pure read path: it consults the tracker but never calls
// Update. Statistics mutation belongs exclusively to the ingest
// pipeline, which keeps a combined evaluation from ever replaying
// history into the running mean/variance.
type Detector struct {
	tracker   *stats.Tracker
	snapshots SnapshotProvider
	cfg       config.EngineConfig
}

// New creates a detector
func New(tracker *stats.Tracker, snapshots SnapshotProvider, cfg config.EngineConfig) *Detector {
	return &Detector{tracker: tracker, snapshots: snapshots, cfg: cfg}
}

// squash maps |z| into [0,1) with saturation; scale controls how fast a
// deviation is considered extreme.
func squash(absZ, scale float64) float64 {
	return 1 - math.Exp(-absZ/scale)
}

// Score evaluates one observation (rating plus its representation
// vector) for a location.
//
//   - Statistical component: saturated |z| of the rating against the
//     location's rolling baseline.
//   - Model component: active snapshot's isolation-forest score of the
//     vector. While no snapshot is published the weight redistributes to
//     the statistical component (model-not-ready is a fallback, not an
//     error).
//
// With insufficient history the result is 0 with Evaluable=false: no
// verdict yet, never a false anomaly.
func (d *Detector) Score(locationID string, rating float64, vec []float32) ScoreBreakdown {
	z, ok := d.tracker.ZScore(locationID, rating)
	if !ok {
		return ScoreBreakdown{Evaluable: false}
	}

	breakdown := ScoreBreakdown{
		StatScore: squash(math.Abs(z), d.cfg.ZScale),
		ZScore:    &z,
		Evaluable: true,
	}

	statW := d.cfg.StatWeight
	modelW := d.cfg.ModelWeight

	snap := d.snapshots.Active()
	if snap != nil && len(vec) == snap.Forest.Dimension {
		modelScore, err := snap.Forest.Score(vec)
		if err != nil {
			log.Printf("⚠️  Model scoring failed for %s: %v", locationID, err)
		} else {
			breakdown.ModelScore = modelScore
			breakdown.ModelUsed = true
		}
	}

	if !breakdown.ModelUsed {
		// Redistribute the model weight rather than diluting the score
		statW += modelW
		modelW = 0
	}

	total := statW + modelW
	if total == 0 {
		return breakdown
	}
	breakdown.Combined = (statW*breakdown.StatScore + modelW*breakdown.ModelScore) / total

	// Guard the contract even if a component misbehaves
	breakdown.Combined = math.Min(1, math.Max(0, breakdown.Combined))
	return breakdown
}
