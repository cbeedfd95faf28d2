package detector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review-pulse/config"
	"review-pulse/stats"
)

type fixedProvider struct {
	snap *Snapshot
}

func (p *fixedProvider) Active() *Snapshot { return p.snap }

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinSamples:  5,
		ZScale:      2.5,
		StatWeight:  0.5,
		ModelWeight: 0.5,
	}
}

func trainedSnapshot(t *testing.T, dim int) *Snapshot {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	vectors := make([][]float32, 300)
	for i := range vectors {
		v := make([]float32, dim)
		for d := range v {
			v[d] = 0.5 + float32(rng.NormFloat64())*0.05
		}
		vectors[i] = v
	}
	forest, err := TrainForest(vectors, 50, 128, rng)
	require.NoError(t, err)
	return &Snapshot{Version: "v1", TrainingSize: len(vectors), Forest: forest}
}

func TestScoreColdStart(t *testing.T) {
	tracker := stats.NewTracker(5)
	d := New(tracker, &fixedProvider{}, testEngineConfig())

	// Two reviews: below the minimum sample threshold
	tracker.Update("loc-1", 5)
	tracker.Update("loc-1", 4)

	b := d.Score("loc-1", 1, nil)
	assert.False(t, b.Evaluable, "cold start must report not evaluable")
	assert.Zero(t, b.Combined, "cold start must not produce a false positive")
}

func TestScoreStatOnlyWithoutModel(t *testing.T) {
	tracker := stats.NewTracker(5)
	d := New(tracker, &fixedProvider{}, testEngineConfig())

	for _, v := range []float64{4, 5, 4, 5, 4, 5, 4, 5} {
		tracker.Update("loc-1", v)
	}

	b := d.Score("loc-1", 1, nil)
	require.True(t, b.Evaluable)
	assert.False(t, b.ModelUsed, "no snapshot published")
	// Model weight redistributes: combined equals the statistical component
	assert.InDelta(t, b.StatScore, b.Combined, 1e-12)
	assert.Greater(t, b.Combined, 0.5, "a 1-star against a 4.5 baseline is clearly anomalous")
	assert.NotNil(t, b.ZScore)
}

func TestScoreCombinesModelComponent(t *testing.T) {
	tracker := stats.NewTracker(5)
	snap := trainedSnapshot(t, 4)
	d := New(tracker, &fixedProvider{snap: snap}, testEngineConfig())

	for _, v := range []float64{4, 5, 4, 5, 4, 5, 4, 5} {
		tracker.Update("loc-1", v)
	}

	b := d.Score("loc-1", 1, []float32{0.5, 0.5, 0.5, 0.5})
	require.True(t, b.Evaluable)
	assert.True(t, b.ModelUsed)
	want := (0.5*b.StatScore + 0.5*b.ModelScore) / 1.0
	assert.InDelta(t, want, b.Combined, 1e-12)
}

func TestScoreAlwaysBounded(t *testing.T) {
	tracker := stats.NewTracker(5)
	snap := trainedSnapshot(t, 4)
	d := New(tracker, &fixedProvider{snap: snap}, testEngineConfig())

	for i := 0; i < 50; i++ {
		tracker.Update("loc-1", float64(i%3)+3)
	}

	ratings := []float64{-1e9, -5, 0, 3, 1e9}
	for _, r := range ratings {
		b := d.Score("loc-1", r, []float32{1e20, -1e20, 1e20, -1e20})
		assert.GreaterOrEqual(t, b.Combined, 0.0, "rating %v", r)
		assert.LessOrEqual(t, b.Combined, 1.0, "rating %v", r)
	}
}

func TestScoreDoesNotMutateStats(t *testing.T) {
	tracker := stats.NewTracker(5)
	d := New(tracker, &fixedProvider{}, testEngineConfig())

	for _, v := range []float64{4, 5, 4, 5, 4, 5} {
		tracker.Update("loc-1", v)
	}
	before, _ := tracker.Get("loc-1")

	for i := 0; i < 100; i++ {
		d.Score("loc-1", 1, nil)
	}

	after, _ := tracker.Get("loc-1")
	assert.Equal(t, before.Count, after.Count, "scoring must never feed observations back into the tracker")
	assert.Equal(t, before.Mean, after.Mean)
	assert.Equal(t, before.M2, after.M2)
}
