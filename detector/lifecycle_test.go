package detector

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review-pulse/config"
)

type sliceSource struct {
	vectors [][]float32
	err     error
	delay   time.Duration
}

func (s *sliceSource) TrainingVectors(ctx context.Context, windowDays, limit int) ([][]float32, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.vectors, s.err
}

func lifecycleConfig() config.EngineConfig {
	return config.EngineConfig{
		RetrainWindowDays: 30,
		MinTrainingSet:    50,
		ForestTrees:       20,
		ForestSampleSize:  64,
		ForestSeed:        1,
	}
}

func trainingVectors(n int) [][]float32 {
	rng := rand.New(rand.NewSource(2))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, 4)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		vectors[i] = v
	}
	return vectors
}

func TestLifecycleStates(t *testing.T) {
	src := &sliceSource{vectors: trainingVectors(200)}
	l := NewLifecycle(lifecycleConfig(), src, nil, nil)

	st := l.Status()
	assert.Equal(t, StateUntrained, st.State)
	assert.Nil(t, l.Active())

	snap, err := l.Retrain(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.NotEmpty(t, snap.Version)
	assert.Equal(t, 200, snap.TrainingSize)

	st = l.Status()
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, snap.Version, st.Version)
	assert.Equal(t, 200, st.TrainingSize)
}

func TestRetrainFailureKeepsActiveSnapshot(t *testing.T) {
	src := &sliceSource{vectors: trainingVectors(200)}
	l := NewLifecycle(lifecycleConfig(), src, nil, nil)

	first, err := l.Retrain(context.Background())
	require.NoError(t, err)

	// Next window is too small: retrain fails, snapshot survives
	src.vectors = trainingVectors(10)
	_, err = l.Retrain(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientTrainingData))

	assert.Same(t, first, l.Active(), "failed retrain must not disturb the active snapshot")
	st := l.Status()
	assert.Equal(t, StateActive, st.State)
	assert.NotEmpty(t, st.LastError, "failure must be observable via status")
}

func TestRetrainPublishesNewVersion(t *testing.T) {
	cfg := lifecycleConfig()
	cfg.ForestSeed = 0 // time-seeded so versions differ
	src := &sliceSource{vectors: trainingVectors(200)}
	l := NewLifecycle(cfg, src, nil, nil)

	first, err := l.Retrain(context.Background())
	require.NoError(t, err)
	second, err := l.Retrain(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Version, second.Version)
	assert.Same(t, second, l.Active())
}

func TestConcurrentReadsDuringRetrain(t *testing.T) {
	src := &sliceSource{vectors: trainingVectors(400)}
	l := NewLifecycle(lifecycleConfig(), src, nil, nil)

	_, err := l.Retrain(context.Background())
	require.NoError(t, err)
	firstVersion := l.Active().Version

	// Hammer Active() while retrains run; every loaded snapshot must be
	// fully formed and score without error.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	probe := []float32{0.1, 0.2, 0.3, 0.4}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := l.Active()
				if snap == nil {
					t.Error("active snapshot disappeared during retrain")
					return
				}
				if _, err := snap.Forest.Score(probe); err != nil {
					t.Errorf("scoring against loaded snapshot failed: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		_, err := l.Retrain(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.NotEqual(t, firstVersion, l.Active().Version)
}

func TestRetrainInProgressRejected(t *testing.T) {
	src := &sliceSource{vectors: trainingVectors(200), delay: 200 * time.Millisecond}
	l := NewLifecycle(lifecycleConfig(), src, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := l.Retrain(context.Background())
		assert.NoError(t, err)
	}()

	// Give the first retrain time to take the slot
	time.Sleep(50 * time.Millisecond)
	_, err := l.Retrain(context.Background())
	assert.True(t, errors.Is(err, ErrRetrainInProgress))
	<-done
}
