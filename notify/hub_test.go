package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/printflow/printflow/models"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, chan struct{}, string) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(runDone)
	}()

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return hub, cancel, runDone, wsURL
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == want
	}, time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsOrderEvents(t *testing.T) {
	hub, cancel, _, wsURL := startHub(t)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.OrderStatusChanged("o1", "TEST123456", models.OrderStatusCompleted)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	require.Equal(t, EventOrderStatus, event.Type)
	require.Contains(t, string(event.Data), "TEST123456")
	require.Contains(t, string(event.Data), string(models.OrderStatusCompleted))
}

func TestHubShutdownReleasesClients(t *testing.T) {
	hub, cancel, runDone, wsURL := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The stopped hub closed the connection; the client read unblocks.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	// Connections arriving after shutdown are closed instead of wedging
	// their pumps on an undrained register channel.
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	require.Error(t, err)
}
