package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pattersondev/voynich-client/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer is a minimal socket endpoint that records inbound envelopes
// and lets the test push envelopes or drop the connection.
type wsServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	received []models.Envelope
}

func newWsServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws://" + strings.TrimPrefix(s.URL, "http://")
}

func (s *wsServer) envelopes() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Envelope(nil), s.received...)
}

// push writes env on the most recent accepted connection.
func (s *wsServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode push: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no connection to push on")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(env); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// dropAll closes every accepted connection, simulating a transport cut.
func (s *wsServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *wsServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *wsServer) joinCount() int {
	n := 0
	for _, env := range s.envelopes() {
		if env.Event == models.EventJoin {
			n++
		}
	}
	return n
}

func TestSocket_ConnectJoinReceive(t *testing.T) {
	srv := newWsServer(t)

	var connected int32
	messages := make(chan models.Message, 8)
	h := Handler{
		Connected: func() { atomic.AddInt32(&connected, 1) },
		Message:   func(msg models.Message) { messages <- msg },
	}

	sock := Dial(srv.url(), h, zerolog.Nop())
	defer sock.Close()

	sock.Connect()
	sock.Join("chat-1", "a1b2c3d4")

	waitUntil(t, "connect", func() bool { return atomic.LoadInt32(&connected) > 0 })
	waitUntil(t, "join", func() bool { return srv.joinCount() == 1 })

	var join models.Join
	for _, env := range srv.envelopes() {
		if env.Event == models.EventJoin {
			if err := json.Unmarshal(env.Data, &join); err != nil {
				t.Fatalf("decode join: %v", err)
			}
		}
	}
	if join.ChatID != "chat-1" || join.UserID != "a1b2c3d4" {
		t.Errorf("join = %+v, want chat-1 / a1b2c3d4", join)
	}

	srv.push(t, models.EventMessage, models.Message{ID: "m1", Sender: "e5f6a7b8", Content: "hi"})

	select {
	case msg := <-messages:
		if msg.ID != "m1" || msg.Content != "hi" {
			t.Errorf("message = %+v, want m1 hi", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSocket_SendMessage(t *testing.T) {
	srv := newWsServer(t)

	sock := Dial(srv.url(), Handler{}, zerolog.Nop())
	defer sock.Close()

	sock.Connect()
	sock.Join("chat-1", "a1b2c3d4")
	sock.SendMessage(models.Outbound{ChatID: "chat-1", Sender: "a1b2c3d4", Content: "hello"})

	waitUntil(t, "message envelope", func() bool {
		for _, env := range srv.envelopes() {
			if env.Event == models.EventMessage {
				return true
			}
		}
		return false
	})

	for _, env := range srv.envelopes() {
		if env.Event != models.EventMessage {
			continue
		}
		var out models.Outbound
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("decode outbound: %v", err)
		}
		if out.ChatID != "chat-1" || out.Content != "hello" {
			t.Errorf("outbound = %+v, want chat-1 hello", out)
		}
	}
}

func TestSocket_RejoinAfterDisconnect(t *testing.T) {
	srv := newWsServer(t)

	var disconnects int32
	messages := make(chan models.Message, 8)
	h := Handler{
		Disconnected: func(error) { atomic.AddInt32(&disconnects, 1) },
		Message:      func(msg models.Message) { messages <- msg },
	}

	sock := Dial(srv.url(), h, zerolog.Nop())
	defer sock.Close()

	sock.Connect()
	sock.Join("chat-1", "a1b2c3d4")
	waitUntil(t, "first join", func() bool { return srv.joinCount() == 1 })

	srv.dropAll()

	waitUntil(t, "disconnect callback", func() bool { return atomic.LoadInt32(&disconnects) > 0 })
	// The adapter reconnects and replays the join on its own.
	waitUntil(t, "rejoin", func() bool { return srv.joinCount() == 2 })
	if srv.acceptedCount() < 2 {
		t.Fatalf("accepted %d connections, want at least 2", srv.acceptedCount())
	}

	srv.push(t, models.EventMessage, models.Message{ID: "m2", Sender: "e5f6a7b8", Content: "back"})
	select {
	case msg := <-messages:
		if msg.ID != "m2" {
			t.Errorf("message after rejoin = %+v, want m2", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message after reconnect")
	}
}

func TestSocket_DispatchEvents(t *testing.T) {
	srv := newWsServer(t)

	expired := make(chan struct{}, 1)
	counts := make(chan int, 8)
	h := Handler{
		ChatExpired: func() { expired <- struct{}{} },
		UserCount:   func(n int) { counts <- n },
	}

	sock := Dial(srv.url(), h, zerolog.Nop())
	defer sock.Close()

	sock.Connect()
	sock.Join("chat-1", "a1b2c3d4")
	waitUntil(t, "join", func() bool { return srv.joinCount() == 1 })

	srv.push(t, models.EventUserCount, 4)
	select {
	case n := <-counts:
		if n != 4 {
			t.Errorf("userCount = %d, want 4", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no userCount delivered")
	}

	srv.push(t, models.EventChatExpired, nil)
	select {
	case <-expired:
	case <-time.After(3 * time.Second):
		t.Fatal("no chatExpired delivered")
	}
}

func TestSocket_CloseQuiesces(t *testing.T) {
	srv := newWsServer(t)

	var callbacks int32
	h := Handler{
		Connected:    func() { atomic.AddInt32(&callbacks, 1) },
		Disconnected: func(error) { atomic.AddInt32(&callbacks, 1) },
		Message:      func(models.Message) { atomic.AddInt32(&callbacks, 1) },
	}

	sock := Dial(srv.url(), h, zerolog.Nop())
	sock.Connect()
	sock.Join("chat-1", "a1b2c3d4")
	waitUntil(t, "join", func() bool { return srv.joinCount() == 1 })

	if err := sock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	before := atomic.LoadInt32(&callbacks)
	srv.dropAll()
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&callbacks); got != before {
		t.Errorf("callbacks fired after Close: %d then %d", before, got)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSocket_CloseBeforeConnect(t *testing.T) {
	sock := Dial("ws://localhost:1", Handler{}, zerolog.Nop())
	if err := sock.Close(); err != nil {
		t.Fatalf("Close before Connect: %v", err)
	}
}
