// Package stats maintains per-location rolling statistics of the
// review-rating signal using Welford's one-pass algorithm. The tracker
// is the only component allowed to mutate the running mean/variance;
// everything downstream (outlier scoring, propagation) reads it.
package stats

import (
	"math"
	"sync"
	"time"
)

// shardCount spreads per-location locks so updates to different
// locations do not contend. Must be a power of two.
const shardCount = 32

// Rolling is a point-in-time copy of one location's statistics.
type Rolling struct {
	LocationID string    `json:"location_id"`
	Count      int64     `json:"count"`
	Mean       float64   `json:"mean"`
	M2         float64   `json:"m2"` // sum of squared deviations (Welford accumulator)
	UpdatedAt  time.Time `json:"updated_at"`
}

// Variance returns the sample variance, 0 with fewer than 2 observations.
func (r Rolling) Variance() float64 {
	if r.Count < 2 {
		return 0
	}
	return r.M2 / float64(r.Count-1)
}

// StdDev returns the sample standard deviation.
func (r Rolling) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

type shard struct {
	mu    sync.RWMutex
	stats map[string]*Rolling
}

// Tracker maintains rolling statistics for every tracked location.
type Tracker struct {
	shards     [shardCount]*shard
	minSamples int
}

// NewTracker creates a tracker. minSamples is the observation count
// below which z-scores are reported as not yet meaningful.
func NewTracker(minSamples int) *Tracker {
	t := &Tracker{minSamples: minSamples}
	for i := range t.shards {
		t.shards[i] = &shard{stats: make(map[string]*Rolling)}
	}
	return t
}

func (t *Tracker) shardFor(locationID string) *shard {
	// FNV-1a, inlined to avoid an allocation per lookup
	h := uint32(2166136261)
	for i := 0; i < len(locationID); i++ {
		h ^= uint32(locationID[i])
		h *= 16777619
	}
	return t.shards[h&(shardCount-1)]
}

// Update consumes exactly one new observation for a location. Welford's
// increment: never re-aggregates history, so feeding the same sequence
// one value at a time matches the batch mean/variance.
func (t *Tracker) Update(locationID string, value float64) Rolling {
	s := t.shardFor(locationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.stats[locationID]
	if !ok {
		r = &Rolling{LocationID: locationID}
		s.stats[locationID] = r
	}

	r.Count++
	delta := value - r.Mean
	r.Mean += delta / float64(r.Count)
	delta2 := value - r.Mean
	r.M2 += delta * delta2
	r.UpdatedAt = time.Now()

	return *r
}

// ZScore returns (value-mean)/stddev for a location. The second return
// is false when fewer than minSamples observations exist or the
// standard deviation is zero: "no verdict yet", not "no anomaly".
func (t *Tracker) ZScore(locationID string, value float64) (float64, bool) {
	s := t.shardFor(locationID)
	s.mu.RLock()
	r, ok := s.stats[locationID]
	if !ok {
		s.mu.RUnlock()
		return 0, false
	}
	snapshot := *r
	s.mu.RUnlock()

	if snapshot.Count < int64(t.minSamples) {
		return 0, false
	}
	sd := snapshot.StdDev()
	if sd == 0 {
		return 0, false
	}
	return (value - snapshot.Mean) / sd, true
}

// Get returns a copy of one location's statistics.
func (t *Tracker) Get(locationID string) (Rolling, bool) {
	s := t.shardFor(locationID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.stats[locationID]
	if !ok {
		return Rolling{}, false
	}
	return *r, true
}

// Snapshot returns a copy of every location's statistics, for
// persistence and the baselines mirror table.
func (t *Tracker) Snapshot() []Rolling {
	var out []Rolling
	for _, s := range t.shards {
		s.mu.RLock()
		for _, r := range s.stats {
			out = append(out, *r)
		}
		s.mu.RUnlock()
	}
	return out
}

// Restore loads previously snapshotted statistics, replacing any
// existing entry for the same location. Used for warm starts; restoring
// never runs observations back through Update.
func (t *Tracker) Restore(rollings []Rolling) {
	for _, r := range rollings {
		cp := r
		s := t.shardFor(r.LocationID)
		s.mu.Lock()
		s.stats[r.LocationID] = &cp
		s.mu.Unlock()
	}
}

// Count returns the number of tracked locations.
func (t *Tracker) Count() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.stats)
		s.mu.RUnlock()
	}
	return n
}
