package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review-pulse/config"
	"review-pulse/detector"
	"review-pulse/embedding"
	"review-pulse/propagation"
	"review-pulse/signals"
	"review-pulse/stats"
)

const testDimension = 8

// stubEncoder returns a fixed vector, or fails when down is set.
type stubEncoder struct {
	down  bool
	calls int
}

func (s *stubEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.down {
		return nil, embedding.ErrEncodingUnavailable
	}
	vec := make([]float32, testDimension)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7
	}
	return vec, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{Dimension: testDimension},
		Engine: config.EngineConfig{
			MinSamples:         5,
			ZScale:             2.5,
			StatWeight:         0.5,
			ModelWeight:        0.5,
			ChainWeight:        0.9,
			RadiusKm:           25,
			DecayKm:            10,
			SelfWeight:         0.4,
			MaxIterations:      20,
			Tolerance:          1e-4,
			PropagationTimeout: 10,
			LowThreshold:       0.35,
			HighThreshold:      0.65,
			SystemicThreshold:  0.4,
			RetrainWindowDays:  30,
			MinTrainingSet:     100,
			ForestTrees:        10,
			ForestSampleSize:   32,
		},
	}
}

// newTestEngine builds an engine with in-memory collaborators only: no
// database, no redis, no broker.
func newTestEngine(t *testing.T, enc *stubEncoder) *Engine {
	t.Helper()
	cfg := testConfig()
	tracker := stats.NewTracker(cfg.Engine.MinSamples)
	embedder := embedding.NewService(enc, nil, testDimension)
	lifecycle := detector.NewLifecycle(cfg.Engine, nil, nil, nil)
	return New(cfg, nil, nil, nil, embedder, tracker, lifecycle, nil)
}

func TestProcessReviewColdStart(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	for i := 0; i < 2; i++ {
		result, err := e.ProcessReview(context.Background(), ReviewInput{
			LocationID: "loc-1",
			Rating:     4,
			Text:       "pretty good",
		})
		require.NoError(t, err)
		assert.False(t, result.Breakdown.Evaluable, "two reviews must not be evaluable")
	}

	rolling, ok := e.Tracker().Get("loc-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), rolling.Count)
}

func TestProcessReviewEvaluableAfterWarmup(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	var last *AnomalyResult
	for i := 0; i < 6; i++ {
		var err error
		last, err = e.ProcessReview(context.Background(), ReviewInput{
			LocationID: "loc-1",
			Rating:     4,
		})
		require.NoError(t, err)
	}

	assert.True(t, last.Breakdown.Evaluable)
	assert.GreaterOrEqual(t, last.Breakdown.Combined, 0.0)
	assert.LessOrEqual(t, last.Breakdown.Combined, 1.0)
}

func TestProcessReviewRejectsInvalidRating(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	_, err := e.ProcessReview(context.Background(), ReviewInput{
		LocationID: "loc-1",
		Rating:     9,
	})
	assert.Error(t, err)

	_, ok := e.Tracker().Get("loc-1")
	assert.False(t, ok, "rejected review must not touch the tracker")
}

func TestProcessReviewDegradesOnEncoderOutage(t *testing.T) {
	enc := &stubEncoder{down: true}
	e := newTestEngine(t, enc)

	result, err := e.ProcessReview(context.Background(), ReviewInput{
		LocationID: "loc-1",
		Rating:     1,
		Text:       "terrible service",
	})
	require.NoError(t, err, "encoder outage must not fail the pipeline")
	assert.True(t, result.Degraded)
	assert.False(t, result.Breakdown.ModelUsed)
}

func TestCriticalityBeforeFirstRun(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	entries, stale, available := e.Criticality(0.5)
	assert.Nil(t, entries)
	assert.False(t, stale)
	assert.False(t, available)
}

func TestCriticalityFiltersThreshold(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	e.Results().Publish(&propagation.Result{
		Criticality: map[string]float64{"hot": 0.8, "warm": 0.45, "cold": 0.1},
		Chains: map[string]propagation.ChainRollup{
			"chain-a": {ChainID: "chain-a", Mean: 0.7, Corroborating: 3, Total: 4},
		},
		ComputedAt: time.Now(),
	})

	entries, stale, available := e.Criticality(0.6)
	assert.True(t, available)
	assert.False(t, stale)
	require.Len(t, entries, 2)

	targets := map[string]string{}
	for _, entry := range entries {
		targets[entry.Target] = entry.TargetKind
	}
	assert.Equal(t, signals.TargetLocation, targets["hot"])
	assert.Equal(t, signals.TargetChain, targets["chain-a"])
}

func TestTradingSignalUnknownTarget(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	sig, err := e.TradingSignalFor("nowhere")
	require.NoError(t, err)
	assert.Equal(t, signals.SignalHold, sig.Signal)
	assert.False(t, sig.Evaluable)
	assert.InDelta(t, 0.05, sig.Confidence, 1e-9)
}

func TestTradingSignalForLocationWithHistory(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	for i := 0; i < 6; i++ {
		e.RecordObservation("loc-1", 4)
	}
	e.Results().Publish(&propagation.Result{
		Criticality: map[string]float64{"loc-1": 0.8},
		ComputedAt:  time.Now(),
	})

	sig, err := e.TradingSignalFor("loc-1")
	require.NoError(t, err)
	assert.True(t, sig.Evaluable)
	assert.Equal(t, signals.TargetLocation, sig.TargetKind)
	// High criticality with no trend information holds.
	assert.Equal(t, signals.SignalHold, sig.Signal)
	assert.Greater(t, sig.Confidence, 0.05)
	assert.Equal(t, 1, sig.Corroborating)
}

func TestRecordObservationUpdatesTracker(t *testing.T) {
	e := newTestEngine(t, &stubEncoder{})

	rolling := e.RecordObservation("loc-9", 3.5)
	assert.Equal(t, int64(1), rolling.Count)
	assert.Equal(t, 3.5, rolling.Mean)
}
