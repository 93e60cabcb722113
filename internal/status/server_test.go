package status

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/routeworks/haulsync/internal/notify"
	"github.com/routeworks/haulsync/internal/syncer"
)

type fakeProvider struct {
	status syncer.Status
}

func (f *fakeProvider) Status(ctx context.Context) (syncer.Status, error) {
	return f.status, nil
}

func startTestServer(t *testing.T) (*Server, *notify.Bus, *fakeProvider) {
	t.Helper()
	bus := notify.NewBus()
	provider := &fakeProvider{status: syncer.Status{Online: true, GPSPending: 5, Pending: 5}}

	server := NewServer(provider, bus, &Config{
		Listen: "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(50 * time.Millisecond)
	return server, bus, provider
}

func TestServerStartStop(t *testing.T) {
	server, _, _ := startTestServer(t)
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	server, _, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Errorf("first message type = %q, want snapshot", msg.Type)
	}
	if msg.Status == nil || msg.Status.GPSPending != 5 {
		t.Errorf("snapshot status = %+v", msg.Status)
	}

	if count := server.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}
}

func TestBusEventsRelayed(t *testing.T) {
	server, bus, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Discard the snapshot.
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	bus.Publish(notify.Event{
		Kind:       notify.KindQueueDepth,
		QueueDepth: &notify.QueueDepth{GPS: 2, Total: 2},
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Kind != notify.KindQueueDepth {
		t.Errorf("relayed message = %+v", msg)
	}
	if msg.Event.QueueDepth.Total != 2 {
		t.Errorf("queue depth = %+v", msg.Event.QueueDepth)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _, provider := startTestServer(t)
	provider.status.CompletionPending = 3

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var s syncer.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !s.Online || s.CompletionPending != 3 {
		t.Errorf("status = %+v", s)
	}
}
