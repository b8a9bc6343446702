// Package live wraps the bidirectional socket to the Voynich backend
// behind a narrow channel interface. Reconnection, backoff and rejoin
// live entirely below this surface; consumers only ever observe
// connected/disconnected transitions and decoded events.
package live

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pattersondev/voynich-client/internal/models"
)

const (
	minBackoff   = 250 * time.Millisecond
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	// Base64 inflates a 10 MiB attachment by 4/3, plus envelope slack.
	readLimit = 16 << 20
)

// Channel is the capability set the session engine consumes.
type Channel interface {
	Connect()
	Join(chatID, userID string)
	SendMessage(msg models.Outbound)
	Close() error
}

// Handler receives decoded socket events. Callbacks are invoked from a
// single adapter goroutine and must not block; nil fields are skipped.
type Handler struct {
	Connected    func()
	ConnectError func(err error)
	Disconnected func(err error)
	Message      func(msg models.Message)
	ChatExpired  func()
	UserCount    func(n int)
}

// Socket implements Channel over a websocket. Send is best-effort: while
// disconnected, outgoing events queue up to the outbox capacity and are
// dropped beyond it.
type Socket struct {
	url     string
	handler Handler
	log     zerolog.Logger

	outbox chan models.Envelope
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	join   *models.Join
	closed bool

	connectOnce sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Dial prepares a socket for url. No network activity happens until
// Connect.
func Dial(url string, handler Handler, logger zerolog.Logger) *Socket {
	return &Socket{
		url:     url,
		handler: handler,
		log:     logger,
		outbox:  make(chan models.Envelope, 64),
		done:    make(chan struct{}),
	}
}

// Connect starts the connection loop. Non-blocking, one-shot.
func (s *Socket) Connect() {
	s.connectOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// Join announces presence in a chat. The adapter re-sends the join after
// every reconnect without further involvement from the caller.
func (s *Socket) Join(chatID, userID string) {
	join := &models.Join{ChatID: chatID, UserID: userID}
	s.mu.Lock()
	s.join = join
	connected := s.conn != nil
	s.mu.Unlock()
	if connected {
		s.enqueue(models.EventJoin, join)
	}
}

// SendMessage fires a message event. Delivery is not guaranteed; the
// caller must wait for the server echo before treating it as sent.
func (s *Socket) SendMessage(msg models.Outbound) {
	s.enqueue(models.EventMessage, msg)
}

func (s *Socket) enqueue(event string, payload any) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("encode socket event")
		return
	}
	select {
	case s.outbox <- env:
	default:
		s.log.Warn().Str("event", event).Msg("outbox full, dropping event")
	}
}

// Close tears the socket down. After Close returns no handler callback
// fires. Safe to call repeatedly, and before Connect.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// run owns the dial/read cycle and is the only goroutine that invokes
// handler callbacks.
func (s *Socket) run() {
	defer s.wg.Done()
	backoff := minBackoff
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.emitConnectError(err)
			select {
			case <-s.done:
				return
			case <-time.After(jitter(backoff)):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		join := s.join
		s.mu.Unlock()

		writerStop := make(chan struct{})
		writerDone := make(chan struct{})
		go s.writeLoop(conn, join, writerStop, writerDone)

		s.emitConnected()
		err = s.readLoop(conn)

		close(writerStop)
		<-writerDone
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		select {
		case <-s.done:
			return
		default:
			s.emitDisconnected(err)
		}
	}
}

// writeLoop serializes all writes on conn: the rejoin first, then the
// outbox, with keepalive pings in between.
func (s *Socket) writeLoop(conn *websocket.Conn, join *models.Join, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	if join != nil {
		env, err := models.NewEnvelope(models.EventJoin, join)
		if err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-stop:
			return
		case env := <-s.outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env models.Envelope) {
	select {
	case <-s.done:
		return
	default:
	}
	switch env.Event {
	case models.EventMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("malformed message event")
			return
		}
		if s.handler.Message != nil {
			s.handler.Message(msg)
		}
	case models.EventChatExpired:
		if s.handler.ChatExpired != nil {
			s.handler.ChatExpired()
		}
	case models.EventUserCount:
		var n int
		if err := json.Unmarshal(env.Data, &n); err != nil {
			s.log.Warn().Err(err).Msg("malformed userCount event")
			return
		}
		if s.handler.UserCount != nil {
			s.handler.UserCount(n)
		}
	default:
		s.log.Debug().Str("event", env.Event).Msg("unknown socket event")
	}
}

func (s *Socket) emitConnected() {
	select {
	case <-s.done:
		return
	default:
	}
	if s.handler.Connected != nil {
		s.handler.Connected()
	}
}

func (s *Socket) emitConnectError(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.handler.ConnectError != nil {
		s.handler.ConnectError(err)
	}
}

func (s *Socket) emitDisconnected(err error) {
	if s.handler.Disconnected != nil {
		s.handler.Disconnected(err)
	}
}

func jitter(d time.Duration) time.Duration {
	// ±20% so a fleet of clients does not reconnect in lockstep.
	delta := time.Duration(rand.Int63n(int64(d) / 5))
	if rand.Intn(2) == 0 {
		return d - delta
	}
	return d + delta
}
