// Package feed consumes the realtime review stream over WebSocket and
// dispatches each review into the ingest pipeline.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReviewMessage is one review on the wire.
type ReviewMessage struct {
	Type       string    `json:"type"`
	LocationID string    `json:"location_id"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// subscribeRequest is the handshake the feed expects after connecting.
type subscribeRequest struct {
	Action    string   `json:"action"`
	Locations []string `json:"locations"`
}

// pingMessage keeps the connection alive.
type pingMessage struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

const allLocationsWildcard = "*"

// Client is one WebSocket connection to the review feed.
type Client struct {
	url        string
	header     http.Header
	conn       *websocket.Conn
	writeMu    sync.Mutex
	pingCancel context.CancelFunc
}

// NewClient creates a feed client authenticated with the bearer token.
func NewClient(url, token string) *Client {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)

	return &Client{
		url:    url,
		header: header,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.conn = conn
	log.Printf("✅ Connected to %s", c.url)
	return nil
}

// Subscribe requests the review stream for all locations.
func (c *Client) Subscribe() error {
	req := subscribeRequest{
		Action:    "subscribe",
		Locations: []string{allLocationsWildcard},
	}
	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}

	log.Printf("📡 Subscribed to ALL locations (wildcard subscription)")
	return nil
}

// StartPing starts the periodic keep-alive loop.
func (c *Client) StartPing(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ping := pingMessage{Action: "ping", Timestamp: time.Now().Unix()}
				if err := c.writeJSON(ping); err != nil {
					log.Println("Failed to send ping:", err)
					return
				}
			}
		}
	}()
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return c.conn.WriteJSON(v)
}

// ReadMessage reads and decodes one review from the stream. Non-review
// frames (pongs, status updates) return a nil message and no error.
func (c *Client) ReadMessage() (*ReviewMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg ReviewMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if msg.Type != "review" {
		return nil, nil
	}
	return &msg, nil
}

// Close closes the connection and stops the ping loop.
func (c *Client) Close() error {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
