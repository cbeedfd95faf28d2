// Package notifications delivers engine events to registered webhook
// endpoints.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"review-pulse/cache"
	"review-pulse/database"
	"review-pulse/signals"
)

const (
	cacheKeyWebhooks = "active_webhooks"
	deliveryRetries  = 3
	retryDelay       = 2 * time.Second
)

// WebhookManager handles webhook notifications
type WebhookManager struct {
	repo   *database.ReviewRepository
	redis  *cache.RedisClient
	client *http.Client
}

// EventPayload is the JSON body sent to webhook endpoints.
type EventPayload struct {
	Event       string      `json:"event"`
	Target      string      `json:"target"`
	Criticality float64     `json:"criticality"`
	Message     string      `json:"message"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Detail      interface{} `json:"detail,omitempty"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(repo *database.ReviewRepository, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		repo:  repo,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifySignal fans a generated trading signal out to matching webhooks.
func (wm *WebhookManager) NotifySignal(sig *signals.TradingSignal) {
	message := fmt.Sprintf("📊 SIGNAL %s for %s %s | Criticality: %.3f | Confidence: %.3f | Trend: %+.3f",
		sig.Signal, sig.TargetKind, sig.Target, sig.Criticality, sig.Confidence, sig.Trend)

	wm.dispatch("signal", sig.Target, sig.Criticality, EventPayload{
		Event:       "signal",
		Target:      sig.Target,
		Criticality: sig.Criticality,
		Message:     message,
		OccurredAt:  sig.GeneratedAt,
		Detail:      sig,
	}, false)
}

// NotifyAnomaly fans a high-scoring anomaly evaluation out to webhooks
// that accept anomaly events.
func (wm *WebhookManager) NotifyAnomaly(locationID string, score float64, detail interface{}) {
	message := fmt.Sprintf("⚠️  ANOMALY at %s | Score: %.3f", locationID, score)

	wm.dispatch("anomaly", locationID, score, EventPayload{
		Event:       "anomaly",
		Target:      locationID,
		Criticality: score,
		Message:     message,
		OccurredAt:  time.Now(),
		Detail:      detail,
	}, true)
}

func (wm *WebhookManager) dispatch(event, target string, score float64, payload EventPayload, anomalyEvent bool) {
	webhooks, err := wm.getActiveWebhooks()
	if err != nil {
		log.Printf("⚠️  Failed to load webhooks: %v", err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️  Failed to marshal webhook payload: %v", err)
		return
	}

	for _, hook := range webhooks {
		if wm.shouldSend(hook, score, anomalyEvent) {
			go wm.deliver(hook, event, payloadBytes)
		}
	}
}

func (wm *WebhookManager) getActiveWebhooks() ([]database.SignalWebhook, error) {
	if wm.redis != nil {
		var cached []database.SignalWebhook
		if err := wm.redis.Get(context.Background(), cacheKeyWebhooks, &cached); err == nil {
			return cached, nil
		}
	}

	webhooks, err := wm.repo.GetEnabledWebhooks()
	if err != nil {
		return nil, err
	}

	if wm.redis != nil {
		_ = wm.redis.Set(context.Background(), cacheKeyWebhooks, webhooks, 1*time.Hour)
	}
	return webhooks, nil
}

func (wm *WebhookManager) shouldSend(hook database.SignalWebhook, score float64, anomalyEvent bool) bool {
	if anomalyEvent && hook.SignalOnly {
		return false
	}
	if score < hook.MinScore {
		return false
	}
	return true
}

func (wm *WebhookManager) deliver(hook database.SignalWebhook, event string, payload []byte) {
	var resp *http.Response
	var err error

	for attempt := 1; attempt <= deliveryRetries; attempt++ {
		req, reqErr := http.NewRequest(http.MethodPost, hook.URL, bytes.NewBuffer(payload))
		if reqErr != nil {
			wm.logDelivery(hook.ID, event, 0, false, reqErr.Error())
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Review-Pulse/1.0")

		resp, err = wm.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			wm.logDelivery(hook.ID, event, resp.StatusCode, true, "")
			resp.Body.Close()
			return
		}
		if err == nil {
			resp.Body.Close()
		}

		if attempt < deliveryRetries {
			time.Sleep(retryDelay)
		}
	}

	statusCode := 0
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if resp != nil {
		statusCode = resp.StatusCode
	}
	wm.logDelivery(hook.ID, event, statusCode, false, errMsg)
}

func (wm *WebhookManager) logDelivery(webhookID, event string, code int, success bool, errMsg string) {
	entry := &database.SignalWebhookLog{
		WebhookID:   webhookID,
		EventType:   event,
		StatusCode:  code,
		Success:     success,
		Error:       errMsg,
		AttemptedAt: time.Now(),
	}
	if err := wm.repo.LogWebhookDelivery(entry); err != nil {
		log.Printf("⚠️  Failed to save webhook log: %v", err)
	}
}

// RefreshCache invalidates the cached webhook set after a CRUD change.
func (wm *WebhookManager) RefreshCache() {
	if wm.redis != nil {
		_ = wm.redis.Delete(context.Background(), cacheKeyWebhooks)
		log.Println("🔄 Webhook cache invalidated")
	}
}
