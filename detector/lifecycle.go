package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"review-pulse/cache"
	"review-pulse/config"
)

// Lifecycle states. Transitions: Untrained → Training → Active, then
// Active ⇄ Retraining. A failed (re)train never disturbs the active
// snapshot.
const (
	StateUntrained  = "UNTRAINED"
	StateTraining   = "TRAINING"
	StateActive     = "ACTIVE"
	StateRetraining = "RETRAINING"
)

// ErrRetrainInProgress is returned when a retrain trigger overlaps a
// running one.
var ErrRetrainInProgress = errors.New("retrain already in progress")

// ErrInsufficientTrainingData is returned when the rolling window holds
// fewer vectors than the configured minimum.
var ErrInsufficientTrainingData = errors.New("insufficient training data")

// TrainingSource supplies the rolling window of representation vectors
// used for retraining.
type TrainingSource interface {
	TrainingVectors(ctx context.Context, windowDays, limit int) ([][]float32, error)
}

// MetaSink records snapshot metadata for the audit trail. May be nil.
type MetaSink interface {
	RecordSnapshot(version string, trainedAt time.Time, trainingSize, windowDays, trees, sampleSize int) error
}

// Status reports the lifecycle's externally observable state.
type Status struct {
	State         string        `json:"state"`
	Version       string        `json:"version,omitempty"`
	TrainedAt     time.Time     `json:"trained_at,omitempty"`
	AgeSeconds    float64       `json:"age_seconds,omitempty"`
	TrainingSize  int           `json:"training_size,omitempty"`
	LastRetrainAt time.Time     `json:"last_retrain_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	RetrainTook   time.Duration `json:"-"`
}

// Lifecycle manages training and atomic publication of model snapshots.
// The active snapshot is held behind an atomic pointer: readers load it
// without taking any lock and keep using whichever version they loaded,
// so retrains never block or tear concurrent scoring.
type Lifecycle struct {
	cfg    config.EngineConfig
	source TrainingSource
	redis  *cache.RedisClient
	meta   MetaSink

	active atomic.Pointer[Snapshot]

	mu            sync.Mutex // serializes retrains and guards the fields below
	retraining    bool
	lastRetrainAt time.Time
	lastErr       error
}

// NewLifecycle creates a lifecycle manager. redis and meta may be nil.
func NewLifecycle(cfg config.EngineConfig, source TrainingSource, redis *cache.RedisClient, meta MetaSink) *Lifecycle {
	return &Lifecycle{cfg: cfg, source: source, redis: redis, meta: meta}
}

// Active returns the current snapshot, or nil while untrained.
// Implements SnapshotProvider.
func (l *Lifecycle) Active() *Snapshot {
	return l.active.Load()
}

// WarmStart tries to load a previously persisted snapshot from the
// shared cache so a fresh instance scores with the fleet's model
// immediately. A missing or corrupt blob is not an error.
func (l *Lifecycle) WarmStart(ctx context.Context) {
	if l.redis == nil {
		return
	}
	data, err := l.redis.GetBytes(ctx, cache.KeyActiveModel)
	if err != nil {
		if !cache.IsMiss(err) {
			log.Printf("⚠️  Model warm start read failed: %v", err)
		}
		return
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		log.Printf("⚠️  Rejecting cached model snapshot: %v", err)
		return
	}
	l.active.Store(snap)
	log.Printf("✅ Warm-started model snapshot %s (trained %s ago, %d vectors)",
		snap.Version, snap.Age().Round(time.Second), snap.TrainingSize)
}

// Retrain trains a new snapshot on the rolling window and atomically
// publishes it. The previous snapshot stays active until the swap and
// is never modified; on any failure it remains active and the error is
// surfaced only through Status and health.
func (l *Lifecycle) Retrain(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	if l.retraining {
		l.mu.Unlock()
		return nil, ErrRetrainInProgress
	}
	l.retraining = true
	l.mu.Unlock()

	started := time.Now()
	snap, err := l.train(ctx)

	l.mu.Lock()
	l.retraining = false
	l.lastRetrainAt = started
	l.lastErr = err
	l.mu.Unlock()

	if err != nil {
		log.Printf("⚠️  Model retrain failed: %v", err)
		return nil, err
	}

	l.active.Store(snap)
	log.Printf("✅ Published model snapshot %s (%d vectors, took %s)",
		snap.Version, snap.TrainingSize, time.Since(started).Round(time.Millisecond))

	l.persist(ctx, snap)
	return snap, nil
}

func (l *Lifecycle) train(ctx context.Context) (*Snapshot, error) {
	vectors, err := l.source.TrainingVectors(ctx, l.cfg.RetrainWindowDays, 50000)
	if err != nil {
		return nil, fmt.Errorf("fetching training window: %w", err)
	}
	if len(vectors) < l.cfg.MinTrainingSet {
		return nil, fmt.Errorf("%w: have %d vectors, need %d",
			ErrInsufficientTrainingData, len(vectors), l.cfg.MinTrainingSet)
	}

	seed := l.cfg.ForestSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	forest, err := TrainForest(vectors, l.cfg.ForestTrees, l.cfg.ForestSampleSize, rng)
	if err != nil {
		return nil, fmt.Errorf("training forest: %w", err)
	}

	return &Snapshot{
		Version:      uuid.NewString(),
		TrainedAt:    time.Now(),
		TrainingSize: len(vectors),
		WindowDays:   l.cfg.RetrainWindowDays,
		Forest:       forest,
	}, nil
}

// persist pushes the published snapshot to the shared cache and the
// audit table. Both are best-effort: the in-memory publication already
// happened and must not be rolled back by infrastructure hiccups.
func (l *Lifecycle) persist(ctx context.Context, snap *Snapshot) {
	if l.redis != nil {
		data, err := snap.Marshal()
		if err != nil {
			log.Printf("⚠️  Snapshot serialization failed: %v", err)
		} else if err := l.redis.SetBytes(ctx, cache.KeyActiveModel, data, 0); err != nil {
			log.Printf("⚠️  Snapshot cache write failed: %v", err)
		}
	}

	if l.meta != nil {
		err := l.meta.RecordSnapshot(snap.Version, snap.TrainedAt, snap.TrainingSize,
			snap.WindowDays, l.cfg.ForestTrees, l.cfg.ForestSampleSize)
		if err != nil {
			log.Printf("⚠️  Snapshot metadata write failed: %v", err)
		}
	}
}

// Status reports the current lifecycle state for health and the model
// status endpoint.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	retraining := l.retraining
	lastRetrainAt := l.lastRetrainAt
	lastErr := l.lastErr
	l.mu.Unlock()

	st := Status{LastRetrainAt: lastRetrainAt}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}

	snap := l.active.Load()
	switch {
	case snap == nil && retraining:
		st.State = StateTraining
	case snap == nil:
		st.State = StateUntrained
	case retraining:
		st.State = StateRetraining
	default:
		st.State = StateActive
	}

	if snap != nil {
		st.Version = snap.Version
		st.TrainedAt = snap.TrainedAt
		st.AgeSeconds = snap.Age().Seconds()
		st.TrainingSize = snap.TrainingSize
	}
	return st
}
