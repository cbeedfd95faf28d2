package app

import (
	"context"
	"log"
	"time"

	"review-pulse/engine"
)

// PropagationRunner periodically relaxes the latest raw scores over the
// location graph. An interval of 0 disables the loop; an external
// scheduler can then drive runs through the engine directly.
type PropagationRunner struct {
	engine   *engine.Engine
	interval time.Duration
	done     chan bool
}

// NewPropagationRunner creates a propagation runner
func NewPropagationRunner(eng *engine.Engine, interval time.Duration) *PropagationRunner {
	return &PropagationRunner{
		engine:   eng,
		interval: interval,
		done:     make(chan bool),
	}
}

// Start begins the propagation loop
func (pr *PropagationRunner) Start() {
	if pr.interval <= 0 {
		log.Println("🕸️  Propagation runner disabled, runs are externally scheduled")
		return
	}

	log.Printf("🕸️  Propagation runner started (every %v)", pr.interval)

	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	// Initial run
	pr.runOnce()

	for {
		select {
		case <-ticker.C:
			pr.runOnce()
		case <-pr.done:
			log.Println("🕸️  Propagation runner stopped")
			return
		}
	}
}

// Stop stops the propagation loop
func (pr *PropagationRunner) Stop() {
	if pr.interval <= 0 {
		return
	}
	pr.done <- true
}

func (pr *PropagationRunner) runOnce() {
	result, err := pr.engine.RunPropagation(context.Background())
	if err != nil {
		log.Printf("⚠️  Propagation run failed: %v", err)
		return
	}
	log.Printf("🕸️  Propagation completed: %d locations, %d chains, %d iterations (converged=%v) in %v",
		len(result.Criticality), len(result.Chains), result.Iterations, result.Converged, result.Duration.Round(time.Millisecond))
}
