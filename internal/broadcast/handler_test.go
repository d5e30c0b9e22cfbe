package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/replicahq/replica-broadcast/internal/status"
)

func newTestServer(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry()
	r := mux.NewRouter()
	NewHandler(registry).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return registry, srv
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/broadcast/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForGroup polls until the group under key reaches size n.
func waitForGroup(t *testing.T, registry *Registry, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.GroupSize(key) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("group %q never reached size %d (now %d)", key, n, registry.GroupSize(key))
}

func TestServeWS_SubscriberReceivesEvent(t *testing.T) {
	registry, srv := newTestServer(t)

	conn := dial(t, srv, "7")
	waitForGroup(t, registry, "7", 1)

	version := "v3"
	updated := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if n := registry.Publish("7", status.Event{Label: "7", Outcome: 1, Version: &version, UpdatedOn: &updated}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(msg, &raw); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if raw["label"] != "7" || raw["outcome"] != float64(1) {
		t.Errorf("unexpected message: %v", raw)
	}
	if raw["version"] != "v3" {
		t.Errorf("expected version 'v3', got %v", raw["version"])
	}
	if raw["updatedOn"] != "2024-01-01T00:00:00Z" {
		t.Errorf("expected ISO-8601 updatedOn, got %v", raw["updatedOn"])
	}
}

func TestServeWS_EventsNotLeakedAcrossKeys(t *testing.T) {
	registry, srv := newTestServer(t)

	conn7 := dial(t, srv, "7")
	conn9 := dial(t, srv, "9")
	waitForGroup(t, registry, "7", 1)
	waitForGroup(t, registry, "9", 1)

	registry.Publish("7", status.Event{Label: "7", Outcome: 1})

	conn7.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn7.ReadMessage(); err != nil {
		t.Fatalf("subscriber on '7' should have received the event: %v", err)
	}

	conn9.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn9.ReadMessage(); err == nil {
		t.Fatal("subscriber on '9' should not have received an event for '7'")
	}
}

func TestServeWS_DisconnectDetaches(t *testing.T) {
	registry, srv := newTestServer(t)

	conn := dial(t, srv, "42")
	waitForGroup(t, registry, "42", 1)

	conn.Close()
	waitForGroup(t, registry, "42", 0)

	// Publishing after the disconnect is a quiet no-op.
	if n := registry.Publish("42", status.Event{Label: "42"}); n != 0 {
		t.Fatalf("expected 0 deliveries after disconnect, got %d", n)
	}
}

func TestServeWS_ControlMessageEchoedToGroup(t *testing.T) {
	registry, srv := newTestServer(t)

	sender := dial(t, srv, "5")
	listener := dial(t, srv, "5")
	waitForGroup(t, registry, "5", 2)

	if err := sender.WriteJSON(controlMessage{Message: "ping-me"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{sender, listener} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var echo status.Echo
		if err := json.Unmarshal(msg, &echo); err != nil {
			t.Fatalf("failed to decode echo: %v", err)
		}
		if echo.Target != "ping-me" || echo.StatusCode != 200 {
			t.Errorf("unexpected echo: %+v", echo)
		}
	}
}

func TestServeWS_SlowSubscriberEvicted(t *testing.T) {
	registry, srv := newTestServer(t)

	// The peer attaches and then never reads. Once the connection's write
	// path backs up and the send buffer fills, the next delivery must evict
	// the subscriber instead of blocking the publish path.
	dial(t, srv, "slow")
	waitForGroup(t, registry, "slow", 1)

	big := strings.Repeat("x", 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	evicted := false
	for time.Now().Before(deadline) {
		if n := registry.Publish("slow", status.Event{Label: "slow", Outcome: 1, Version: &big}); n == 0 {
			evicted = true
			break
		}
	}
	if !evicted {
		t.Fatal("stalled subscriber was never evicted")
	}

	waitForGroup(t, registry, "slow", 0)

	// Later events for the key are quiet no-ops.
	if n := registry.Publish("slow", status.Event{Label: "slow", Outcome: 0}); n != 0 {
		t.Fatalf("expected 0 deliveries after eviction, got %d", n)
	}
}

func TestServeWS_RejectsDisallowedOrigin(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/broadcast/7"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to be rejected for a foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestServeWS_AllowsDefaultOrigin(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/broadcast/7"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected handshake to succeed for the default origin: %v", err)
	}
	conn.Close()
}

func TestServeWS_MultipleSubscribersSameKey(t *testing.T) {
	registry, srv := newTestServer(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, srv, "acct")
	}
	waitForGroup(t, registry, "acct", 3)

	if n := registry.Publish("acct", status.Event{Label: "acct", Outcome: 0}); n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("subscriber %d did not receive the event: %v", i, err)
		}
	}
}
