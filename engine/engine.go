// Package engine orchestrates the anomaly pipeline: ingest, scoring,
// propagation and signal generation, on top of the storage and realtime
// layers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"review-pulse/cache"
	"review-pulse/config"
	"review-pulse/database"
	"review-pulse/database/analytics"
	"review-pulse/detector"
	"review-pulse/embedding"
	"review-pulse/graph"
	"review-pulse/propagation"
	"review-pulse/realtime"
	"review-pulse/signals"
	"review-pulse/stats"
)

// trendWindow is the lookback used when deriving trend direction for
// signal generation.
const trendWindow = 7 * 24 * time.Hour

// scoreFreshness bounds how long a location's last anomaly evaluation
// feeds propagation runs; older entries decay to a raw score of 0.
const scoreFreshness = 24 * time.Hour

// Engine wires the anomaly pipeline together: representations, rolling
// statistics, outlier detection, propagation and signal generation.
//
// The ingest path (ProcessReview / RecordObservation) is the only code
// that mutates rolling statistics; every scoring path is read-only.
type Engine struct {
	cfg       *config.Config
	repo      *database.ReviewRepository
	analytics *analytics.Repository
	redis     *cache.RedisClient
	embedder  *embedding.Service
	tracker   *stats.Tracker
	detector  *detector.Detector
	lifecycle *detector.Lifecycle
	builder   *graph.Builder
	propagate *propagation.Engine
	results   *propagation.Store
	generator *signals.Generator
	broker    *realtime.Broker
	notifier  Notifier

	mu         sync.RWMutex
	scoreboard map[string]scoreboardEntry
}

// Notifier receives engine events for out-of-process delivery. The
// webhook manager implements it.
type Notifier interface {
	NotifySignal(sig *signals.TradingSignal)
	NotifyAnomaly(locationID string, score float64, detail interface{})
}

type scoreboardEntry struct {
	score       float64
	evaluable   bool
	evaluatedAt time.Time
}

// New assembles the engine from its parts
func New(
	cfg *config.Config,
	repo *database.ReviewRepository,
	analyticsRepo *analytics.Repository,
	redis *cache.RedisClient,
	embedder *embedding.Service,
	tracker *stats.Tracker,
	lifecycle *detector.Lifecycle,
	broker *realtime.Broker,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		repo:       repo,
		analytics:  analyticsRepo,
		redis:      redis,
		embedder:   embedder,
		tracker:    tracker,
		lifecycle:  lifecycle,
		builder:    graph.NewBuilder(cfg.Engine),
		propagate:  propagation.NewEngine(cfg.Engine),
		results:    propagation.NewStore(),
		generator:  signals.NewGenerator(cfg.Engine),
		broker:     broker,
		scoreboard: make(map[string]scoreboardEntry),
	}
	e.detector = detector.New(tracker, lifecycle, cfg.Engine)
	return e
}

// ReviewInput is one review entering the pipeline.
type ReviewInput struct {
	LocationID string    `json:"location_id"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// AnomalyResult is the outcome of one anomaly check.
type AnomalyResult struct {
	LocationID  string                  `json:"location_id"`
	Breakdown   detector.ScoreBreakdown `json:"breakdown"`
	EvaluatedAt time.Time               `json:"evaluated_at"`
	// Degraded is set when the representation backend was unreachable
	// and the evaluation fell back to the statistical component only.
	Degraded bool `json:"degraded,omitempty"`
}

// ProcessReview runs the full ingest pipeline for one review: persist
// the row, feed the rating to the rolling tracker exactly once, embed
// the text, score the observation and record the evaluation.
//
// A malformed review fails only its own processing; an unreachable
// embedding backend degrades the evaluation to the statistical
// component instead of failing the pipeline.
func (e *Engine) ProcessReview(ctx context.Context, in ReviewInput) (*AnomalyResult, error) {
	if err := database.ValidateRating(in.Rating); err != nil {
		return nil, err
	}
	if in.ReviewedAt.IsZero() {
		in.ReviewedAt = time.Now()
	}

	review := &database.Review{
		LocationID: in.LocationID,
		Rating:     in.Rating,
		Text:       in.Text,
		TextHash:   embedding.HashText(in.Text),
		ReviewedAt: in.ReviewedAt,
	}
	if e.repo != nil {
		if err := e.repo.SaveReview(review); err != nil {
			return nil, err
		}
	}

	// The single statistics mutation for this observation.
	rolling := e.tracker.Update(in.LocationID, float64(in.Rating))
	e.mirrorBaseline(rolling)

	vec, degraded := e.vectorFor(ctx, in.Text)
	breakdown := e.detector.Score(in.LocationID, float64(in.Rating), vec)

	result := &AnomalyResult{
		LocationID:  in.LocationID,
		Breakdown:   breakdown,
		EvaluatedAt: time.Now(),
		Degraded:    degraded,
	}

	e.recordEvaluation(result)
	return result, nil
}

// vectorFor resolves the representation, falling back to nil (stat-only
// scoring) when the backend is down so one outage does not stall the
// whole ingest stream.
func (e *Engine) vectorFor(ctx context.Context, text string) ([]float32, bool) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrEncodingUnavailable) {
			log.Printf("⚠️  Representation backend unavailable, scoring without model component: %v", err)
			return nil, true
		}
		log.Printf("⚠️  Embedding failed: %v", err)
		return nil, true
	}
	return vec, false
}

// recordEvaluation persists the anomaly record, updates the propagation
// scoreboard and pushes the event to realtime consumers.
func (e *Engine) recordEvaluation(result *AnomalyResult) {
	rec := &database.AnomalyRecord{
		LocationID:  result.LocationID,
		EvaluatedAt: result.EvaluatedAt,
		Score:       result.Breakdown.Combined,
		StatScore:   result.Breakdown.StatScore,
		ModelScore:  result.Breakdown.ModelScore,
		ZScore:      result.Breakdown.ZScore,
		Evaluable:   result.Breakdown.Evaluable,
		ModelUsed:   result.Breakdown.ModelUsed,
	}
	if e.repo != nil {
		if err := e.repo.SaveAnomalyRecord(rec); err != nil {
			log.Printf("⚠️  Failed to save anomaly record for %s: %v", result.LocationID, err)
		}
	}

	e.mu.Lock()
	e.scoreboard[result.LocationID] = scoreboardEntry{
		score:       result.Breakdown.Combined,
		evaluable:   result.Breakdown.Evaluable,
		evaluatedAt: result.EvaluatedAt,
	}
	e.mu.Unlock()

	if result.Breakdown.Evaluable {
		if e.broker != nil {
			e.broker.Broadcast(realtime.EventAnomaly, result)
		}
		if e.notifier != nil {
			e.notifier.NotifyAnomaly(result.LocationID, result.Breakdown.Combined, result)
		}
	}
}

// mirrorBaseline writes the rolling statistics mirror row, best-effort.
func (e *Engine) mirrorBaseline(r stats.Rolling) {
	if e.repo == nil {
		return
	}
	b := &database.LocationBaseline{
		LocationID:  r.LocationID,
		SampleCount: r.Count,
		MeanRating:  r.Mean,
		Variance:    r.Variance(),
		UpdatedAt:   r.UpdatedAt,
	}
	if err := e.repo.SaveBaseline(b); err != nil {
		log.Printf("⚠️  Failed to mirror baseline for %s: %v", r.LocationID, err)
	}
}

// RecordObservation feeds one observation outside the review pipeline
// (backfill). No review row is written; the tracker and the baseline
// mirror are updated exactly once.
func (e *Engine) RecordObservation(locationID string, value float64) stats.Rolling {
	rolling := e.tracker.Update(locationID, value)
	e.mirrorBaseline(rolling)
	return rolling
}

// Embed exposes the representation service.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.Embed(ctx, text)
}

// rawScores snapshots the scoreboard for a propagation run, decaying
// entries older than the freshness window to zero.
func (e *Engine) rawScores() map[string]float64 {
	cutoff := time.Now().Add(-scoreFreshness)

	e.mu.RLock()
	defer e.mu.RUnlock()
	raw := make(map[string]float64, len(e.scoreboard))
	for id, entry := range e.scoreboard {
		if !entry.evaluable || entry.evaluatedAt.Before(cutoff) {
			continue
		}
		raw[id] = entry.score
	}
	return raw
}

// RunPropagation executes one bounded propagation run: rebuild the
// graph if the location set changed, relax the current raw scores and
// publish the result. On timeout the previous result is kept and
// flagged stale.
func (e *Engine) RunPropagation(ctx context.Context) (*propagation.Result, error) {
	locations, err := e.repo.GetLocations()
	if err != nil {
		return nil, fmt.Errorf("loading locations: %w", err)
	}

	g := e.builder.Build(locations)

	timeout := time.Duration(e.cfg.Engine.PropagationTimeout) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.propagate.Run(runCtx, e.rawScores(), g)
	if err != nil {
		if errors.Is(err, propagation.ErrPropagationTimeout) {
			e.results.MarkStale()
		}
		return nil, err
	}

	e.results.Publish(result)
	e.persistCriticality(result, g)
	return result, nil
}

// persistCriticality writes the run's per-location records, best-effort.
func (e *Engine) persistCriticality(result *propagation.Result, g *graph.Graph) {
	records := make([]database.CriticalityRecord, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		rec := database.CriticalityRecord{
			LocationID:  node.ID,
			ComputedAt:  result.ComputedAt,
			Criticality: result.Criticality[node.ID],
			RawScore:    result.Raw[node.ID],
			Iterations:  result.Iterations,
			Converged:   result.Converged,
		}
		if node.ChainID != "" {
			chainID := node.ChainID
			rec.ChainID = &chainID
		}
		records = append(records, rec)
	}
	if e.repo != nil {
		if err := e.repo.SaveCriticalityRecords(records); err != nil {
			log.Printf("⚠️  Failed to persist criticality records: %v", err)
		}
	}
}

// CriticalityEntry is one row of a criticality query.
type CriticalityEntry struct {
	Target      string  `json:"target"`
	TargetKind  string  `json:"target_kind"`
	Criticality float64 `json:"criticality"`
}

// Criticality reads locations and chains above the threshold from the
// most recently completed propagation result. It never recomputes the
// graph; the second return reports staleness and the third whether any
// result exists yet.
func (e *Engine) Criticality(threshold float64) ([]CriticalityEntry, bool, bool) {
	result, stale := e.results.Latest()
	if result == nil {
		return nil, false, false
	}

	var entries []CriticalityEntry
	for id, c := range result.Criticality {
		if c >= threshold {
			entries = append(entries, CriticalityEntry{Target: id, TargetKind: signals.TargetLocation, Criticality: c})
		}
	}
	for id, rollup := range result.Chains {
		if rollup.Mean >= threshold {
			entries = append(entries, CriticalityEntry{Target: id, TargetKind: signals.TargetChain, Criticality: rollup.Mean})
		}
	}
	return entries, stale, true
}

// TradingSignalFor generates a signal for a chain or location against
// the latest propagation result. Unknown targets and targets without
// history yield a floor-confidence HOLD.
func (e *Engine) TradingSignalFor(target string) (*signals.TradingSignal, error) {
	result, _ := e.results.Latest()
	g := e.builder.Current()

	in := signals.Input{Target: target, TargetKind: signals.TargetLocation, TotalMembers: 1}

	if g != nil && len(g.ChainMembers(target)) > 0 {
		in.TargetKind = signals.TargetChain
		members := g.ChainMembers(target)
		in.TotalMembers = len(members)

		anyHistory := false
		for _, id := range members {
			if r, ok := e.tracker.Get(id); ok && r.Count >= int64(e.cfg.Engine.MinSamples) {
				anyHistory = true
				break
			}
		}

		if result != nil && anyHistory {
			if rollup, ok := result.Chains[target]; ok {
				in.Criticality = rollup.Mean
				in.Corroborating = rollup.Corroborating
				in.Evaluable = true
			}
		}
		if in.Evaluable && e.analytics != nil {
			trend, err := e.analytics.ChainTrendDirection(target, trendWindow)
			if err != nil {
				log.Printf("⚠️  Chain trend query failed for %s: %v", target, err)
			} else {
				in.Trend = trend
			}
		}
	} else {
		if result != nil {
			if c, ok := result.Criticality[target]; ok {
				in.Criticality = c
				if c >= e.cfg.Engine.SystemicThreshold {
					in.Corroborating = 1
				}
				// A location only counts as evaluable with real history
				if r, ok := e.tracker.Get(target); ok && r.Count >= int64(e.cfg.Engine.MinSamples) {
					in.Evaluable = true
				}
			}
		}
		if in.Evaluable && e.analytics != nil {
			trend, err := e.analytics.TrendDirection(target, trendWindow)
			if err != nil {
				log.Printf("⚠️  Trend query failed for %s: %v", target, err)
			} else {
				in.Trend = trend
			}
		}
	}

	sig := e.generator.Generate(in)

	rec := &database.TradingSignalRecord{
		Target:        sig.Target,
		TargetKind:    sig.TargetKind,
		Signal:        sig.Signal,
		Confidence:    sig.Confidence,
		Criticality:   sig.Criticality,
		Trend:         sig.Trend,
		Corroborating: sig.Corroborating,
		TotalMembers:  sig.TotalMembers,
		GeneratedAt:   sig.GeneratedAt,
	}
	if e.repo != nil {
		if err := e.repo.SaveTradingSignal(rec); err != nil {
			log.Printf("⚠️  Failed to persist signal for %s: %v", target, err)
		}
	}

	if e.broker != nil {
		e.broker.Broadcast(realtime.EventSignal, sig)
	}
	if e.notifier != nil {
		e.notifier.NotifySignal(&sig)
	}
	if e.redis != nil {
		if err := e.redis.Publish(context.Background(), cache.ChannelSignals, sig); err != nil {
			log.Printf("⚠️  Signal publish failed: %v", err)
		}
	}

	return &sig, nil
}

// SetNotifier registers the out-of-process event sink.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Results exposes the propagation result store.
func (e *Engine) Results() *propagation.Store {
	return e.results
}

// Tracker exposes the rolling statistics tracker.
func (e *Engine) Tracker() *stats.Tracker {
	return e.tracker
}

// Lifecycle exposes the model lifecycle manager.
func (e *Engine) Lifecycle() *detector.Lifecycle {
	return e.lifecycle
}
