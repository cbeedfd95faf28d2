package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review-pulse/config"
	"review-pulse/database"
)

func graphConfig() config.EngineConfig {
	return config.EngineConfig{
		ChainWeight: 0.9,
		RadiusKm:    25,
		DecayKm:     10,
	}
}

func strPtr(s string) *string { return &s }

func testLocations() []database.Location {
	// Two chain members ~870km apart, one independent 5km from loc-a,
	// one independent far from everything.
	return []database.Location{
		{ID: "loc-a", ChainID: strPtr("chain-1"), Latitude: 40.7128, Longitude: -74.0060}, // NYC
		{ID: "loc-b", ChainID: strPtr("chain-1"), Latitude: 41.8781, Longitude: -87.6298}, // Chicago
		{ID: "loc-c", Latitude: 40.7489, Longitude: -73.9680},                             // ~4.5km from loc-a
		{ID: "loc-d", Latitude: 34.0522, Longitude: -118.2437},                            // LA, isolated
	}
}

func TestHaversineKm(t *testing.T) {
	// NYC to Chicago is roughly 1145 km
	d := HaversineKm(40.7128, -74.0060, 41.8781, -87.6298)
	assert.InDelta(t, 1145, d, 15)

	// Zero distance
	assert.InDelta(t, 0, HaversineKm(10, 20, 10, 20), 1e-9)

	// Symmetric
	assert.InDelta(t,
		HaversineKm(40.7, -74.0, 41.8, -87.6),
		HaversineKm(41.8, -87.6, 40.7, -74.0), 1e-9)
}

func TestBuildEdges(t *testing.T) {
	b := NewBuilder(graphConfig())
	g := b.Build(testLocations())

	// Same-chain pair connects regardless of distance, at the chain weight
	nbrsA := g.Neighbors("loc-a")
	var chainEdge, proximityEdge *Neighbor
	for i := range nbrsA {
		switch nbrsA[i].ID {
		case "loc-b":
			chainEdge = &nbrsA[i]
		case "loc-c":
			proximityEdge = &nbrsA[i]
		}
	}
	require.NotNil(t, chainEdge, "chain members must be connected")
	assert.Equal(t, 0.9, chainEdge.Weight)

	require.NotNil(t, proximityEdge, "nearby locations must be connected")
	dist := HaversineKm(40.7128, -74.0060, 40.7489, -73.9680)
	assert.InDelta(t, math.Exp(-dist/10), proximityEdge.Weight, 1e-9)
	assert.Greater(t, proximityEdge.Weight, 0.0)
	assert.LessOrEqual(t, proximityEdge.Weight, 1.0)

	// The isolated location has no edges
	assert.Empty(t, g.Neighbors("loc-d"))

	// Chain membership index
	assert.Equal(t, []string{"loc-a", "loc-b"}, g.ChainMembers("chain-1"))
	assert.Equal(t, []string{"chain-1"}, g.Chains())
}

func TestEdgeWeightSymmetry(t *testing.T) {
	b := NewBuilder(graphConfig())
	g := b.Build(testLocations())

	weights := func(id string) map[string]float64 {
		out := make(map[string]float64)
		for _, n := range g.Neighbors(id) {
			out[n.ID] = n.Weight
		}
		return out
	}

	for _, node := range g.Nodes {
		for _, n := range g.Neighbors(node.ID) {
			back := weights(n.ID)
			w, ok := back[node.ID]
			require.True(t, ok, "edge %s->%s missing reverse", node.ID, n.ID)
			assert.Equal(t, n.Weight, w, "weight(%s,%s) != weight(%s,%s)", node.ID, n.ID, n.ID, node.ID)
		}
	}
}

func TestBuildCachesUntilLocationSetChanges(t *testing.T) {
	b := NewBuilder(graphConfig())
	locations := testLocations()

	g1 := b.Build(locations)
	g2 := b.Build(locations)
	assert.Same(t, g1, g2, "unchanged location set must reuse the cached graph")

	// Metadata-only change: still cached
	locations[0].Name = "Renamed"
	g3 := b.Build(locations)
	assert.Same(t, g1, g3)

	// New location: rebuild
	locations = append(locations, database.Location{ID: "loc-e", Latitude: 40.71, Longitude: -74.0})
	g4 := b.Build(locations)
	assert.NotSame(t, g1, g4)
	assert.Len(t, g4.Nodes, 5)
	assert.Same(t, g4, b.Current())
}
