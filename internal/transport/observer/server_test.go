package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/observerproto"
)

func dial(t *testing.T, s *Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.WSHandler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	before := s.SessionCount()
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.SessionCount() == before {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func subscribe() observerproto.SubscribeMsg {
	return observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}
}

func readEvent(t *testing.T, conn *websocket.Conn) observerproto.EventMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.EventMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestServer_StreamsEvents(t *testing.T) {
	s := NewServer(nil, nil)
	conn := dial(t, s, subscribe())

	s.Emit(events.ChunkEvent(events.KindChunkLoaded, chunks.Pos{X: 3}))
	msg := readEvent(t, conn)
	if msg.Type != observerproto.TypeEvent || msg.Event.Kind != events.KindChunkLoaded {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Event.Pos == nil || *msg.Event.Pos != (chunks.Pos{X: 3}) {
		t.Fatalf("pos = %v", msg.Event.Pos)
	}
}

func TestServer_FiltersByKindAndBox(t *testing.T) {
	s := NewServer(nil, nil)
	sub := subscribe()
	sub.Kinds = []string{string(events.KindChunkLoaded)}
	sub.Center = &[3]int{0, 0, 0}
	sub.ChunkRadius = 1
	conn := dial(t, s, sub)

	s.Emit(events.ChunkEvent(events.KindChunkGenerated, chunks.Pos{}))
	s.Emit(events.ChunkEvent(events.KindChunkLoaded, chunks.Pos{X: 5}))
	s.Emit(events.ChunkEvent(events.KindChunkLoaded, chunks.Pos{X: 1}))

	msg := readEvent(t, conn)
	if msg.Event.Kind != events.KindChunkLoaded || *msg.Event.Pos != (chunks.Pos{X: 1}) {
		t.Fatalf("filter let through %+v", msg.Event)
	}
}

func TestServer_RelevanceOptIn(t *testing.T) {
	s := NewServer(nil, nil)
	sub := subscribe()
	sub.Relevance = true
	conn := dial(t, s, sub)

	s.ChunkIrrelevant("v1", chunks.Pos{Y: -1})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.RelevanceMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeRelevance || msg.Viewer != "v1" || msg.Relevant || msg.Pos != [3]int{0, -1, 0} {
		t.Fatalf("unexpected %+v", msg)
	}
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	s := NewServer(nil, nil)
	ts := httptest.NewServer(s.WSHandler())
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if s.SessionCount() != 0 {
		t.Fatalf("session registered for bad handshake")
	}
}

func TestBootstrapHandler(t *testing.T) {
	s := NewServer(func() observerproto.BootstrapResponse {
		return observerproto.BootstrapResponse{Tick: 42, BlockPalette: []string{"air", "stone"}}
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tick != 42 || resp.ProtocolVersion != observerproto.Version || len(resp.BlockPalette) != 2 {
		t.Fatalf("resp = %+v", resp)
	}

	req.RemoteAddr = "10.1.2.3:5555"
	rec = httptest.NewRecorder()
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback status %d", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":  true,
		"[::1]:9000":    true,
		"::1":           true,
		"192.168.1.4:1": false,
		"garbage":       false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("IsLoopbackRemote(%q) = %v", in, got)
		}
	}
}
