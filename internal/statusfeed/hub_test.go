package statusfeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"camerasync/internal/logging"
	"camerasync/internal/websockettest"
)

func startTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	logger := logging.NewTestLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		if err := ServeWS(hub, upgrader, AllowAllAuthenticator{}, logger, w, r); err != nil {
			t.Logf("ServeWS error: %v", err)
		}
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func dialURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHubBroadcastsStatusToSubscriber(t *testing.T) {
	hub := NewHub(logging.NewTestLogger())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	server := startTestServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(dialURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClientCount(t, hub, 1)

	hub.Publish(Status{Mode: "follower", SyncReady: true, CorrectionState: "correcting", OffsetUs: 42, LagUs: -3, Sequence: 99})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var status Status
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Type != "sync.status" {
		t.Fatalf("expected type sync.status, got %q", status.Type)
	}
	if status.Mode != "follower" || !status.SyncReady || status.OffsetUs != 42 || status.Sequence != 99 {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestHubUnregistersOnClientDisconnect(t *testing.T) {
	hub := NewHub(logging.NewTestLogger())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	server := startTestServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(dialURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForClientCount(t, hub, 1)

	conn.Close()
	waitForClientCount(t, hub, 0)
}

func TestHubAcceptsSubscriberIgnoringPongs(t *testing.T) {
	hub := NewHub(logging.NewTestLogger())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	server := startTestServer(t, hub)

	conn, _, err := websockettest.DialIgnoringPongs(dialURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClientCount(t, hub, 1)
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for client count %d, got %d", want, hub.ClientCount())
}
