package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/observerproto"
)

// Status feeds the bootstrap endpoint.
type Status func() observerproto.BootstrapResponse

// Server streams lifecycle events to loopback websocket observers. It is an
// events.Bus and a relevance.Listener.
type Server struct {
	status Status
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type session struct {
	id  string
	out chan []byte

	mu  sync.RWMutex
	sub observerproto.SubscribeMsg
}

func NewServer(status Status, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		status:   status,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var resp observerproto.BootstrapResponse
		if s.status != nil {
			resp = s.status()
		}
		resp.ProtocolVersion = observerproto.Version
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// Emit sends e to every session whose filter accepts it. Slow sessions drop.
func (s *Server) Emit(e events.Event) {
	if s.SessionCount() == 0 {
		return
	}
	b, err := json.Marshal(observerproto.EventMsg{
		Type:            observerproto.TypeEvent,
		ProtocolVersion: observerproto.Version,
		Event:           e,
	})
	if err != nil {
		s.log.Printf("[observer] marshal event: %v", err)
		return
	}
	s.broadcast(b, func(sub *observerproto.SubscribeMsg) bool { return wantsEvent(sub, e) })
}

func (s *Server) ChunkRelevant(viewer string, pos chunks.Pos, _ *chunks.Chunk) {
	s.relevance(viewer, pos, true)
}

func (s *Server) ChunkIrrelevant(viewer string, pos chunks.Pos) {
	s.relevance(viewer, pos, false)
}

func (s *Server) relevance(viewer string, pos chunks.Pos, relevant bool) {
	if s.SessionCount() == 0 {
		return
	}
	b, err := json.Marshal(observerproto.RelevanceMsg{
		Type:            observerproto.TypeRelevance,
		ProtocolVersion: observerproto.Version,
		Viewer:          viewer,
		Pos:             [3]int{pos.X, pos.Y, pos.Z},
		Relevant:        relevant,
	})
	if err != nil {
		return
	}
	s.broadcast(b, func(sub *observerproto.SubscribeMsg) bool {
		return sub.Relevance && inBox(sub, pos)
	})
}

func (s *Server) broadcast(b []byte, accept func(*observerproto.SubscribeMsg) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		sess.mu.RLock()
		ok := accept(&sess.sub)
		sess.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case sess.out <- b:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

func wantsEvent(sub *observerproto.SubscribeMsg, e events.Event) bool {
	if len(sub.Kinds) > 0 && !slices.Contains(sub.Kinds, string(e.Kind)) {
		return false
	}
	if e.Pos == nil {
		return true
	}
	return inBox(sub, *e.Pos)
}

func inBox(sub *observerproto.SubscribeMsg, pos chunks.Pos) bool {
	if sub.Center == nil {
		return true
	}
	c := chunks.Pos{X: sub.Center[0], Y: sub.Center[1], Z: sub.Center[2]}
	return pos.Chebyshev(c) <= sub.ChunkRadius
}

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

type Stats struct {
	Sessions int
	Sent     uint64
	Dropped  uint64
}

func (s *Server) Stats() Stats {
	return Stats{Sessions: s.SessionCount(), Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 4096),
			sub: sub,
		}
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if next, ok := parseSubscribe(msg); ok {
				sess.mu.Lock()
				sess.sub = next
				sess.mu.Unlock()
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.ChunkRadius <= 0 {
		sub.ChunkRadius = 6
	}
	if sub.ChunkRadius > 32 {
		sub.ChunkRadius = 32
	}
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback
// address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
