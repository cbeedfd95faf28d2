package propagation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review-pulse/config"
	"review-pulse/database"
	"review-pulse/graph"
)

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		ChainWeight:       0.9,
		RadiusKm:          25,
		DecayKm:           10,
		SelfWeight:        0.4,
		MaxIterations:     20,
		Tolerance:         1e-4,
		SystemicThreshold: 0.4,
	}
}

func strPtr(s string) *string { return &s }

// chainLocations builds n same-chain locations spread along a parallel
func chainLocations(chainID string, n int) []database.Location {
	locations := make([]database.Location, n)
	for i := range locations {
		locations[i] = database.Location{
			ID:        fmt.Sprintf("%s-loc-%02d", chainID, i),
			ChainID:   strPtr(chainID),
			Latitude:  40.0,
			Longitude: -74.0 + float64(i)*2, // far enough apart that only chain edges exist
		}
	}
	return locations
}

func buildGraph(t *testing.T, locations []database.Location) *graph.Graph {
	t.Helper()
	return graph.NewBuilder(engineConfig()).Build(locations)
}

func TestRunTerminatesWithinIterationCeiling(t *testing.T) {
	e := NewEngine(engineConfig())
	g := buildGraph(t, chainLocations("chain-1", 10))

	raw := map[string]float64{"chain-1-loc-00": 1.0}
	res, err := e.Run(context.Background(), raw, g)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Iterations, 20)
	assert.True(t, res.Converged || res.Iterations == 20, "must either converge or stop at the ceiling")
	for id, c := range res.Criticality {
		assert.GreaterOrEqual(t, c, 0.0, id)
		assert.LessOrEqual(t, c, 1.0, id)
	}
}

func TestRunEmptyGraph(t *testing.T) {
	e := NewEngine(engineConfig())
	g := buildGraph(t, nil)

	res, err := e.Run(context.Background(), map[string]float64{}, g)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Empty(t, res.Criticality)
}

func TestRunTimeout(t *testing.T) {
	e := NewEngine(engineConfig())
	g := buildGraph(t, chainLocations("chain-1", 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, map[string]float64{"chain-1-loc-00": 1.0}, g)
	assert.True(t, errors.Is(err, ErrPropagationTimeout))
}

func TestMonotonicity(t *testing.T) {
	// Raising one location's raw score must never lower its criticality
	e := NewEngine(engineConfig())
	g := buildGraph(t, chainLocations("chain-1", 8))

	base := map[string]float64{
		"chain-1-loc-00": 0.2,
		"chain-1-loc-01": 0.5,
		"chain-1-loc-02": 0.3,
	}

	prev := -1.0
	for _, rawScore := range []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0} {
		raw := make(map[string]float64, len(base))
		for k, v := range base {
			raw[k] = v
		}
		raw["chain-1-loc-03"] = rawScore

		res, err := e.Run(context.Background(), raw, g)
		require.NoError(t, err)

		c := res.Criticality["chain-1-loc-03"]
		assert.GreaterOrEqual(t, c, prev, "criticality decreased when raw score rose to %v", rawScore)
		prev = c
	}
}

func TestIsolatedSpikeStaysBelowSystemicThreshold(t *testing.T) {
	// One location spikes, its 10 chain neighbors stay clean: the spike
	// location rises but the chain must not read as systemic.
	cfg := engineConfig()
	e := NewEngine(cfg)
	g := buildGraph(t, chainLocations("chain-1", 11))

	raw := map[string]float64{"chain-1-loc-00": 0.95}
	res, err := e.Run(context.Background(), raw, g)
	require.NoError(t, err)

	spiked := res.Criticality["chain-1-loc-00"]
	assert.Greater(t, spiked, 0.4, "spike location keeps an elevated score")

	rollup := res.Chains["chain-1"]
	assert.LessOrEqual(t, rollup.Corroborating, 1, "clean neighbors must not corroborate an isolated spike")
	assert.Less(t, rollup.Mean, cfg.SystemicThreshold, "chain mean stays below systemic")

	// Neighbors pick up only a modest echo
	for i := 1; i < 11; i++ {
		id := fmt.Sprintf("chain-1-loc-%02d", i)
		assert.Less(t, res.Criticality[id], cfg.SystemicThreshold, id)
	}
}

func TestChainWideDropReadsSystemic(t *testing.T) {
	// 8 of 10 chain members drop in sync: all 10 (including the 2 clean
	// ones) must rise above the systemic threshold.
	cfg := engineConfig()
	e := NewEngine(cfg)
	g := buildGraph(t, chainLocations("chain-1", 10))

	raw := make(map[string]float64)
	for i := 0; i < 8; i++ {
		raw[fmt.Sprintf("chain-1-loc-%02d", i)] = 0.9
	}
	// loc-08 and loc-09 remain clean

	res, err := e.Run(context.Background(), raw, g)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("chain-1-loc-%02d", i)
		assert.GreaterOrEqual(t, res.Criticality[id], cfg.SystemicThreshold,
			"%s must be lifted above systemic by chain-wide pressure", id)
	}

	rollup := res.Chains["chain-1"]
	assert.Equal(t, 10, rollup.Total)
	assert.Equal(t, 10, rollup.Corroborating)
	assert.GreaterOrEqual(t, rollup.Mean, cfg.SystemicThreshold)
}

func TestRunIsRepeatable(t *testing.T) {
	// Same inputs, same outputs: no state leaks between runs
	e := NewEngine(engineConfig())
	g := buildGraph(t, chainLocations("chain-1", 6))
	raw := map[string]float64{"chain-1-loc-01": 0.7, "chain-1-loc-04": 0.3}

	r1, err := e.Run(context.Background(), raw, g)
	require.NoError(t, err)
	r2, err := e.Run(context.Background(), raw, g)
	require.NoError(t, err)

	assert.Equal(t, r1.Criticality, r2.Criticality)
	assert.Equal(t, r1.Iterations, r2.Iterations)
}

func TestStore(t *testing.T) {
	s := NewStore()

	res, stale := s.Latest()
	assert.Nil(t, res)
	assert.False(t, stale)

	r := &Result{ComputedAt: time.Now(), Converged: true}
	s.Publish(r)
	got, stale := s.Latest()
	assert.Same(t, r, got)
	assert.False(t, stale)

	s.MarkStale()
	got, stale = s.Latest()
	assert.Same(t, r, got, "stale result is still served")
	assert.True(t, stale)

	s.Publish(&Result{})
	_, stale = s.Latest()
	assert.False(t, stale, "fresh publish clears staleness")
}
