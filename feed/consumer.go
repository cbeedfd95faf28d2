package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"review-pulse/engine"
)

const (
	pingInterval   = 25 * time.Second
	healthInterval = 60 * time.Second
	staleAfter     = 5 * time.Minute
	maxBackoff     = 2 * time.Minute
)

// Consumer owns the feed connection lifecycle: connect, subscribe, read
// loop, health monitoring and reconnection with backoff. Each review is
// dispatched to the ingest pipeline; a malformed review fails only its
// own processing.
type Consumer struct {
	wsURL  string
	tokens *TokenManager
	engine *engine.Engine

	mu          sync.Mutex
	client      *Client
	lastMsgTime time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConsumer creates a feed consumer.
func NewConsumer(wsURL string, tokens *TokenManager, engine *engine.Engine) *Consumer {
	return &Consumer{
		wsURL:       wsURL,
		tokens:      tokens,
		engine:      engine,
		lastMsgTime: time.Now(),
		done:        make(chan struct{}),
	}
}

// Start connects and launches the read loop, health monitor and token
// monitor.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.runHealthMonitor(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.tokens.RunTokenMonitor(ctx)
	}()

	log.Println("🚀 Review feed consumer started")
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (c *Consumer) Stop() {
	close(c.done)
	c.mu.Lock()
	if c.client != nil {
		_ = c.client.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	log.Println("🛑 Review feed consumer stopped")
}

// Healthy reports whether a message arrived within the staleness window.
func (c *Consumer) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && time.Since(c.lastMsgTime) < staleAfter
}

func (c *Consumer) connect() error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("feed authentication failed: %w", err)
	}

	log.Println("🔌 Connecting to review feed...")
	client := NewClient(c.wsURL, token)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("review feed connection failed: %w", err)
	}
	if err := client.Subscribe(); err != nil {
		_ = client.Close()
		return err
	}
	client.StartPing(pingInterval)

	c.mu.Lock()
	c.client = client
	c.lastMsgTime = time.Now()
	c.mu.Unlock()

	log.Println("✅ Review feed connected!")
	return nil
}

// reconnect retries with exponential backoff until it succeeds or the
// consumer stops. A stale token is invalidated before the first retry.
func (c *Consumer) reconnect(ctx context.Context) bool {
	c.mu.Lock()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	c.mu.Unlock()

	c.tokens.Invalidate()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			log.Printf("❌ Feed reconnection failed: %v (retrying in %v)", err, backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		log.Println("✅ Feed reconnected successfully")
		return true
	}
}

func (c *Consumer) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		client := c.client
		c.mu.Unlock()
		if client == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		msg, err := client.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			default:
			}
			log.Printf("⚠️  Feed read error: %v, reconnecting...", err)
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.lastMsgTime = time.Now()
		c.mu.Unlock()

		if msg == nil {
			continue
		}
		c.handleReview(ctx, msg)
	}
}

// handleReview runs one review through the pipeline. Errors are logged
// and skipped so one bad review never stalls the stream.
func (c *Consumer) handleReview(ctx context.Context, msg *ReviewMessage) {
	_, err := c.engine.ProcessReview(ctx, engine.ReviewInput{
		LocationID: msg.LocationID,
		Rating:     msg.Rating,
		Text:       msg.Text,
		ReviewedAt: msg.ReviewedAt,
	})
	if err != nil {
		log.Printf("⚠️  Skipping review for %s: %v", msg.LocationID, err)
	}
}

func (c *Consumer) runHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	log.Println("💓 Feed health monitoring started")

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Feed health monitoring stopped")
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			sinceLast := time.Since(c.lastMsgTime)
			c.mu.Unlock()

			if sinceLast > staleAfter {
				log.Printf("⚠️  No feed message for %v, reconnecting...", sinceLast.Round(time.Second))
				if c.reconnect(ctx) {
					c.mu.Lock()
					c.lastMsgTime = time.Now()
					c.mu.Unlock()
				}
			} else {
				log.Printf("💓 Feed healthy, last message %v ago", sinceLast.Round(time.Second))
			}
		}
	}
}
