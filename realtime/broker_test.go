package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastWithoutClients(t *testing.T) {
	b := NewBroker()
	go b.Run()

	// No subscribers; must not block or panic.
	b.Broadcast(EventAnomaly, map[string]string{"location_id": "loc-1"})
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcastReachesSSEClient(t *testing.T) {
	b := NewBroker()
	go b.Run()

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, b.ClientCount())

	b.Broadcast(EventSignal, map[string]string{"target": "chain-a"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &env))
	assert.Equal(t, EventSignal, env.Event)
	assert.False(t, env.Timestamp.IsZero())
}

func TestClientUnregisteredOnDisconnect(t *testing.T) {
	b := NewBroker()
	go b.Run()

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, b.ClientCount())

	cancel()
	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for b.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, b.ClientCount())
}
