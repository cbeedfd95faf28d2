package app

import (
	"context"
	"log"
	"time"

	"review-pulse/cache"
	"review-pulse/database"
	"review-pulse/stats"
)

const statsSnapshotInterval = 5 * time.Minute

// StatsPersister periodically snapshots the rolling tracker to Redis so
// a restart resumes from the last counters instead of a cold start.
type StatsPersister struct {
	tracker *stats.Tracker
	redis   *cache.RedisClient
	done    chan bool
}

// NewStatsPersister creates a stats persister
func NewStatsPersister(tracker *stats.Tracker, redis *cache.RedisClient) *StatsPersister {
	return &StatsPersister{
		tracker: tracker,
		redis:   redis,
		done:    make(chan bool),
	}
}

// WarmStartTracker restores the tracker from the Redis snapshot, falling back
// to the Postgres baseline mirror when the snapshot is missing.
func WarmStartTracker(ctx context.Context, tracker *stats.Tracker, redis *cache.RedisClient, repo *database.ReviewRepository) {
	if redis != nil {
		var rollings []stats.Rolling
		err := redis.Get(ctx, cache.KeyStatsSnapshot, &rollings)
		if err == nil && len(rollings) > 0 {
			tracker.Restore(rollings)
			log.Printf("✅ Rolling statistics restored from cache (%d locations)", len(rollings))
			return
		}
		if err != nil && !cache.IsMiss(err) {
			log.Printf("⚠️  Stats snapshot read failed: %v", err)
		}
	}

	if repo == nil {
		return
	}
	baselines, err := repo.GetBaselines()
	if err != nil {
		log.Printf("⚠️  Baseline warm start failed: %v", err)
		return
	}
	if len(baselines) == 0 {
		log.Println("📊 No persisted statistics, starting cold")
		return
	}

	rollings := make([]stats.Rolling, 0, len(baselines))
	for _, b := range baselines {
		r := stats.Rolling{
			LocationID: b.LocationID,
			Count:      b.SampleCount,
			Mean:       b.MeanRating,
			UpdatedAt:  b.UpdatedAt,
		}
		// Variance mirror is the sample variance, invert it to M2.
		if b.SampleCount > 1 {
			r.M2 = b.Variance * float64(b.SampleCount-1)
		}
		rollings = append(rollings, r)
	}
	tracker.Restore(rollings)
	log.Printf("✅ Rolling statistics restored from baselines (%d locations)", len(rollings))
}

// Start begins the snapshot loop
func (sp *StatsPersister) Start() {
	log.Println("📊 Stats persister started")

	ticker := time.NewTicker(statsSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sp.persist()
		case <-sp.done:
			sp.persist()
			log.Println("📊 Stats persister stopped")
			return
		}
	}
}

// Stop stops the snapshot loop after a final persist
func (sp *StatsPersister) Stop() {
	sp.done <- true
}

func (sp *StatsPersister) persist() {
	if sp.redis == nil {
		return
	}
	rollings := sp.tracker.Snapshot()
	if len(rollings) == 0 {
		return
	}
	if err := sp.redis.Set(context.Background(), cache.KeyStatsSnapshot, rollings, 0); err != nil {
		log.Printf("⚠️  Stats snapshot write failed: %v", err)
		return
	}
}
