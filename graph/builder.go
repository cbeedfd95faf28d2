// Package graph builds the weighted location adjacency used for anomaly
// propagation. Locations are connected when they share a chain or sit
// within a configurable radius of each other; proximity edge weights
// decay exponentially with great-circle distance while same-chain edges
// carry a fixed, higher weight.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"review-pulse/config"
	"review-pulse/database"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates
// in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const deg = math.Pi / 180
	dLat := (lat2 - lat1) * deg
	dLon := (lon2 - lon1) * deg

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*deg)*math.Cos(lat2*deg)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Edge connects two locations with a weight in (0,1]. Stored once per
// pair; weights are symmetric by construction.
type Edge struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Weight float64 `json:"weight"`
}

// Node is the graph's view of a location.
type Node struct {
	ID      string
	ChainID string // empty for independents
}

// Graph is an immutable built adjacency. Neighbors are precomputed per
// node so the propagation loop never searches the edge list.
type Graph struct {
	Fingerprint string
	BuiltAt     time.Time
	Nodes       []Node
	Edges       []Edge

	neighbors map[string][]Neighbor
	chains    map[string][]string // chain ID -> member location IDs
}

// Neighbor is one adjacent location with the connecting edge weight.
type Neighbor struct {
	ID     string
	Weight float64
}

// Neighbors returns the adjacency list of a location.
func (g *Graph) Neighbors(id string) []Neighbor {
	return g.neighbors[id]
}

// ChainMembers returns the location IDs belonging to a chain.
func (g *Graph) ChainMembers(chainID string) []string {
	return g.chains[chainID]
}

// Chains returns every chain ID present in the graph.
func (g *Graph) Chains() []string {
	out := make([]string, 0, len(g.chains))
	for id := range g.chains {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies a location set: IDs, chain membership and
// coordinates. Metadata-only changes (name, address) do not force a
// rebuild.
func fingerprint(locations []database.Location) string {
	sorted := make([]database.Location, len(locations))
	copy(sorted, locations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, loc := range sorted {
		chain := ""
		if loc.ChainID != nil {
			chain = *loc.ChainID
		}
		fmt.Fprintf(h, "%s|%s|%.6f|%.6f;", loc.ID, chain, loc.Latitude, loc.Longitude)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Builder constructs and caches the propagation graph. Building is
// O(locations²); the cached graph is reused until the location set
// changes, and readers never block on a rebuild (snapshot-pointer
// swap under a short lock).
type Builder struct {
	cfg config.EngineConfig

	mu      sync.RWMutex
	current *Graph
}

// NewBuilder creates a graph builder
func NewBuilder(cfg config.EngineConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Current returns the cached graph, or nil before the first build.
func (b *Builder) Current() *Graph {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Build returns the graph for the given location set, reusing the
// cached one when the set's fingerprint is unchanged.
func (b *Builder) Build(locations []database.Location) *Graph {
	fp := fingerprint(locations)

	b.mu.RLock()
	cur := b.current
	b.mu.RUnlock()
	if cur != nil && cur.Fingerprint == fp {
		return cur
	}

	g := build(locations, fp, b.cfg)

	b.mu.Lock()
	// Another goroutine may have built the same set concurrently; keep
	// whichever is already current if it matches.
	if b.current == nil || b.current.Fingerprint != fp {
		b.current = g
	}
	g = b.current
	b.mu.Unlock()

	log.Printf("🕸️  Propagation graph built: %d locations, %d edges", len(g.Nodes), len(g.Edges))
	return g
}

func build(locations []database.Location, fp string, cfg config.EngineConfig) *Graph {
	g := &Graph{
		Fingerprint: fp,
		BuiltAt:     time.Now(),
		neighbors:   make(map[string][]Neighbor, len(locations)),
		chains:      make(map[string][]string),
	}

	for _, loc := range locations {
		node := Node{ID: loc.ID}
		if loc.ChainID != nil {
			node.ChainID = *loc.ChainID
			g.chains[node.ChainID] = append(g.chains[node.ChainID], loc.ID)
		}
		g.Nodes = append(g.Nodes, node)
	}
	for _, members := range g.chains {
		sort.Strings(members)
	}

	for i := 0; i < len(locations); i++ {
		for j := i + 1; j < len(locations); j++ {
			a, c := locations[i], locations[j]

			sameChain := a.ChainID != nil && c.ChainID != nil && *a.ChainID == *c.ChainID

			var weight float64
			if sameChain {
				weight = cfg.ChainWeight
			} else {
				dist := HaversineKm(a.Latitude, a.Longitude, c.Latitude, c.Longitude)
				if dist >= cfg.RadiusKm {
					continue
				}
				weight = math.Exp(-dist / cfg.DecayKm)
			}

			g.Edges = append(g.Edges, Edge{A: a.ID, B: c.ID, Weight: weight})
			g.neighbors[a.ID] = append(g.neighbors[a.ID], Neighbor{ID: c.ID, Weight: weight})
			g.neighbors[c.ID] = append(g.neighbors[c.ID], Neighbor{ID: a.ID, Weight: weight})
		}
	}

	return g
}
