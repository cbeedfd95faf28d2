package stats

import (
	"math"
	"math/rand"
	"sync"
	"testing"
)

// batchStats computes mean and sample variance directly for comparison
func batchStats(values []float64) (mean, variance float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n

	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	if len(values) > 1 {
		variance /= n - 1
	} else {
		variance = 0
	}
	return mean, variance
}

func TestUpdateMatchesBatchComputation(t *testing.T) {
	// Streaming Welford must agree with a direct batch computation;
	// this is the regression test for history being re-fed into Update.
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		name   string
		values []float64
	}{
		{"small ratings", []float64{5, 4, 4, 3, 5, 1, 2, 5}},
		{"constant", []float64{3, 3, 3, 3, 3, 3}},
		{"two values", []float64{1, 5}},
		{"single value", []float64{4}},
		{"large offset", []float64{1e9 + 1, 1e9 + 2, 1e9 + 3, 1e9 + 4, 1e9 + 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(5)
			for _, v := range tt.values {
				tr.Update("loc-1", v)
			}

			r, ok := tr.Get("loc-1")
			if !ok {
				t.Fatal("expected stats for loc-1")
			}

			wantMean, wantVar := batchStats(tt.values)
			if math.Abs(r.Mean-wantMean) > 1e-9*math.Max(1, math.Abs(wantMean)) {
				t.Errorf("mean = %v, want %v", r.Mean, wantMean)
			}
			if math.Abs(r.Variance()-wantVar) > 1e-6*math.Max(1, wantVar) {
				t.Errorf("variance = %v, want %v", r.Variance(), wantVar)
			}
			if r.Count != int64(len(tt.values)) {
				t.Errorf("count = %d, want %d", r.Count, len(tt.values))
			}
		})
	}

	t.Run("random sequence", func(t *testing.T) {
		tr := NewTracker(5)
		values := make([]float64, 1000)
		for i := range values {
			values[i] = 1 + rng.Float64()*4
			tr.Update("loc-r", values[i])
		}

		r, _ := tr.Get("loc-r")
		wantMean, wantVar := batchStats(values)
		if math.Abs(r.Mean-wantMean) > 1e-9 {
			t.Errorf("mean = %v, want %v", r.Mean, wantMean)
		}
		if math.Abs(r.Variance()-wantVar) > 1e-9 {
			t.Errorf("variance = %v, want %v", r.Variance(), wantVar)
		}
	})
}

func TestZScoreInsufficientHistory(t *testing.T) {
	tr := NewTracker(5)

	// Unknown location
	if z, ok := tr.ZScore("missing", 3); ok || z != 0 {
		t.Errorf("unknown location: got (%v, %v), want (0, false)", z, ok)
	}

	// Two reviews is below the minimum sample threshold
	tr.Update("loc-1", 5)
	tr.Update("loc-1", 4)
	if z, ok := tr.ZScore("loc-1", 1); ok || z != 0 {
		t.Errorf("cold start: got (%v, %v), want (0, false)", z, ok)
	}

	// Constant history has zero stddev: still no verdict
	tr2 := NewTracker(3)
	for i := 0; i < 10; i++ {
		tr2.Update("loc-c", 4)
	}
	if _, ok := tr2.ZScore("loc-c", 4); ok {
		t.Error("zero stddev should report not evaluable")
	}
}

func TestZScoreValue(t *testing.T) {
	tr := NewTracker(3)
	values := []float64{4, 5, 4, 5, 4, 5}
	for _, v := range values {
		tr.Update("loc-1", v)
	}

	mean, variance := batchStats(values)
	sd := math.Sqrt(variance)

	z, ok := tr.ZScore("loc-1", 1)
	if !ok {
		t.Fatal("expected evaluable z-score")
	}
	want := (1 - mean) / sd
	if math.Abs(z-want) > 1e-9 {
		t.Errorf("z = %v, want %v", z, want)
	}
}

func TestConcurrentUpdatesDifferentLocations(t *testing.T) {
	tr := NewTracker(5)
	const perLocation = 500

	var wg sync.WaitGroup
	locations := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, loc := range locations {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perLocation; i++ {
				tr.Update(id, float64(i%5)+1)
			}
		}(loc)
	}
	wg.Wait()

	for _, loc := range locations {
		r, ok := tr.Get(loc)
		if !ok || r.Count != perLocation {
			t.Errorf("location %s: count = %d, want %d", loc, r.Count, perLocation)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	tr := NewTracker(5)
	for i := 0; i < 20; i++ {
		tr.Update("loc-1", float64(i%5)+1)
		tr.Update("loc-2", 3)
	}

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}

	fresh := NewTracker(5)
	fresh.Restore(snap)

	orig, _ := tr.Get("loc-1")
	restored, ok := fresh.Get("loc-1")
	if !ok {
		t.Fatal("loc-1 missing after restore")
	}
	if restored.Count != orig.Count || restored.Mean != orig.Mean || restored.M2 != orig.M2 {
		t.Errorf("restored stats %+v differ from original %+v", restored, orig)
	}
}
