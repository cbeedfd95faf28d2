package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a token is refreshed.
const refreshMargin = 10 * time.Minute

// TokenManager exchanges the feed API key for short-lived bearer tokens
// and refreshes them before they expire.
type TokenManager struct {
	tokenURL string
	apiKey   string
	client   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager. An empty tokenURL disables
// the exchange; the API key is then used directly as the bearer token.
func NewTokenManager(tokenURL, apiKey string) *TokenManager {
	return &TokenManager{
		tokenURL: tokenURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, refreshing it first if needed.
func (tm *TokenManager) Token() (string, error) {
	if tm.tokenURL == "" {
		return tm.apiKey, nil
	}

	tm.mu.RLock()
	token, expiresAt := tm.token, tm.expiresAt
	tm.mu.RUnlock()

	if token != "" && time.Until(expiresAt) > refreshMargin {
		return token, nil
	}
	return tm.refresh()
}

// Invalidate drops the cached token so the next Token call re-exchanges.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	tm.token = ""
	tm.mu.Unlock()
}

func (tm *TokenManager) refresh() (string, error) {
	body, err := json.Marshal(map[string]string{"api_key": tm.apiKey})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, tm.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, string(data))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned empty token")
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	tm.mu.Lock()
	tm.token = tr.AccessToken
	tm.expiresAt = time.Now().Add(ttl)
	tm.mu.Unlock()

	log.Printf("🔑 Feed token refreshed, expires in %v", ttl.Round(time.Second))
	return tr.AccessToken, nil
}

// RunTokenMonitor refreshes the token proactively so the read loop
// never races expiry.
func (tm *TokenManager) RunTokenMonitor(ctx context.Context) {
	if tm.tokenURL == "" {
		return
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	log.Println("🔄 Feed token monitoring started")

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Feed token monitoring stopped")
			return
		case <-ticker.C:
			tm.mu.RLock()
			expiresAt := tm.expiresAt
			tm.mu.RUnlock()

			if time.Until(expiresAt) <= refreshMargin {
				if _, err := tm.refresh(); err != nil {
					log.Printf("❌ Feed token refresh failed: %v", err)
				}
			}
		}
	}
}
