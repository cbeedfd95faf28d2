// Package propagation relaxes per-location anomaly scores across the
// location graph, turning isolated readings into a criticality score
// that reflects whether a deviation is systemic. Despite the source
// material's "quantum-inspired" branding this is a conventional
// weighted-graph diffusion: each node repeatedly blends its own raw
// score with its neighbors' current values until the map stabilizes or
// an iteration ceiling is hit.
package propagation

import (
	"context"
	"errors"
	"math"
	"time"

	"review-pulse/config"
	"review-pulse/graph"
)

// ErrPropagationTimeout signals that a run was cancelled before
// finishing. Callers fall back to the last completed result.
var ErrPropagationTimeout = errors.New("propagation timed out")

// ChainRollup aggregates a propagation run per chain.
type ChainRollup struct {
	ChainID       string  `json:"chain_id"`
	Mean          float64 `json:"mean"`
	Max           float64 `json:"max"`
	Corroborating int     `json:"corroborating"` // members above the systemic threshold
	Total         int     `json:"total"`
}

// Result is one completed propagation run. Immutable once returned.
type Result struct {
	Criticality map[string]float64     `json:"criticality"`
	Raw         map[string]float64     `json:"raw"`
	Chains      map[string]ChainRollup `json:"chains"`
	Iterations  int                    `json:"iterations"`
	Converged   bool                   `json:"converged"`
	ComputedAt  time.Time              `json:"computed_at"`
	Duration    time.Duration          `json:"-"`
}

// Engine runs the relaxation.
type Engine struct {
	cfg config.EngineConfig
}

// NewEngine creates a propagation engine
func NewEngine(cfg config.EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Run relaxes the raw anomaly map over the graph. Locations missing
// from raw participate with a raw score of 0, so a clean neighbor can
// still be lifted by a troubled chain.
//
// The working state is two flat slices reused across iterations and
// released when the run returns; nothing accumulates between runs. The
// context is checked every iteration, so a wall-clock budget bounds the
// whole computation.
func (e *Engine) Run(ctx context.Context, raw map[string]float64, g *graph.Graph) (*Result, error) {
	started := time.Now()

	nodes := g.Nodes
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	rawVec := make([]float64, len(nodes))
	for i, n := range nodes {
		rawVec[i] = clamp01(raw[n.ID])
	}

	cur := make([]float64, len(nodes))
	next := make([]float64, len(nodes))
	copy(cur, rawVec)

	selfW := e.cfg.SelfWeight
	iterations := 0
	converged := false

	for iterations < e.cfg.MaxIterations {
		select {
		case <-ctx.Done():
			return nil, ErrPropagationTimeout
		default:
		}

		maxDelta := 0.0
		for i, n := range nodes {
			neighbors := g.Neighbors(n.ID)
			blended := rawVec[i]
			if len(neighbors) > 0 {
				var weightedSum, weightTotal float64
				for _, nb := range neighbors {
					j := index[nb.ID]
					weightedSum += nb.Weight * cur[j]
					weightTotal += nb.Weight
				}
				blended = selfW*rawVec[i] + (1-selfW)*(weightedSum/weightTotal)
			}

			next[i] = blended
			if d := math.Abs(next[i] - cur[i]); d > maxDelta {
				maxDelta = d
			}
		}

		cur, next = next, cur
		iterations++

		if maxDelta < e.cfg.Tolerance {
			converged = true
			break
		}
	}

	result := &Result{
		Criticality: make(map[string]float64, len(nodes)),
		Raw:         make(map[string]float64, len(nodes)),
		Chains:      make(map[string]ChainRollup),
		Iterations:  iterations,
		Converged:   converged,
		ComputedAt:  time.Now(),
		Duration:    time.Since(started),
	}
	for i, n := range nodes {
		result.Criticality[n.ID] = clamp01(cur[i])
		result.Raw[n.ID] = rawVec[i]
	}

	for _, chainID := range g.Chains() {
		members := g.ChainMembers(chainID)
		rollup := ChainRollup{ChainID: chainID, Total: len(members)}
		for _, id := range members {
			c := result.Criticality[id]
			rollup.Mean += c
			if c > rollup.Max {
				rollup.Max = c
			}
			if c >= e.cfg.SystemicThreshold {
				rollup.Corroborating++
			}
		}
		if rollup.Total > 0 {
			rollup.Mean /= float64(rollup.Total)
		}
		result.Chains[chainID] = rollup
	}

	return result, nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
