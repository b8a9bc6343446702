// Package session reconciles the one-shot chat snapshot with the live
// socket stream into a single ordered, deduplicated message sequence,
// tracks presence and expiry, and exposes the result to a presentation
// layer as a small reactive view.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pattersondev/voynich-client/internal/attach"
	"github.com/pattersondev/voynich-client/internal/expiry"
	"github.com/pattersondev/voynich-client/internal/live"
	"github.com/pattersondev/voynich-client/internal/models"
)

// State is the externally observable session state.
type State int

const (
	StateConnecting State = iota
	StateSyncing
	StateActive
	StateExpired
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool { return s == StateExpired || s == StateError }

var (
	// ErrEmptyMessage rejects a submit with neither content nor attachment.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotReady rejects a submit before the snapshot has merged.
	ErrNotReady = errors.New("session is still syncing")
	// ErrSessionClosed rejects a submit once the session is terminal or
	// torn down.
	ErrSessionClosed = errors.New("session is no longer active")
)

// IdentityStore resolves the stable pseudonymous id for a chat.
type IdentityStore interface {
	UserID(chatID string) string
}

// Deps are the collaborators a session orchestrates.
type Deps struct {
	Identity IdentityStore
	Dial     func(h live.Handler) live.Channel
	Snapshot func(ctx context.Context, chatID string) (*models.Snapshot, error)
	Logger   zerolog.Logger

	// TickEvery overrides the countdown granularity. Zero means 1s.
	TickEvery time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// View is a point-in-time copy of the session surface.
type View struct {
	State    State
	Messages []models.Message
	TimeLeft string
	Online   int
	Err      error
}

type eventKind int

const (
	evConnected eventKind = iota
	evConnectError
	evDisconnected
	evMessage
	evUserCount
	evChatExpired
	evSnapshot
	evTick
	evTrackerExpired
)

type event struct {
	kind  eventKind
	err   error
	msg   models.Message
	count int
	snap  *models.Snapshot
	label string
}

// Session is the per-chat synchronization engine. All state transitions
// happen on one run goroutine; every input funnels through a single
// serialized channel, so no two events ever mutate state concurrently.
type Session struct {
	chatID string
	userID string
	deps   Deps
	log    zerolog.Logger

	channel live.Channel
	events  chan event
	updates chan struct{}
	closed  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu             sync.RWMutex
	view           View
	seen           map[string]struct{}
	pending        []models.Message
	snapshotLoaded bool
	expiresAt      time.Time
	tracker        *expiry.Tracker
}

// New resolves the chat identity and wires the live channel. The session
// does nothing until Start.
func New(chatID string, deps Deps) *Session {
	if deps.TickEvery <= 0 {
		deps.TickEvery = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		chatID:  chatID,
		deps:    deps,
		log:     deps.Logger.With().Str("chat_id", chatID).Logger(),
		events:  make(chan event, 64),
		updates: make(chan struct{}, 1),
		closed:  make(chan struct{}),
		seen:    make(map[string]struct{}),
		view:    View{State: StateConnecting, Online: 1},
	}
	s.userID = deps.Identity.UserID(chatID)
	s.channel = deps.Dial(live.Handler{
		Connected:    func() { s.post(event{kind: evConnected}) },
		ConnectError: func(err error) { s.post(event{kind: evConnectError, err: err}) },
		Disconnected: func(err error) { s.post(event{kind: evDisconnected, err: err}) },
		Message:      func(msg models.Message) { s.post(event{kind: evMessage, msg: msg}) },
		ChatExpired:  func() { s.post(event{kind: evChatExpired}) },
		UserCount:    func(n int) { s.post(event{kind: evUserCount, count: n}) },
	})
	return s
}

// UserID returns the pseudonymous identity used for this chat.
func (s *Session) UserID() string { return s.userID }

// Start connects the live channel, announces the join and issues the
// snapshot fetch in parallel. One-shot.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()

		s.channel.Connect()
		s.channel.Join(s.chatID, s.userID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			snap, err := s.deps.Snapshot(ctx, s.chatID)
			s.post(event{kind: evSnapshot, snap: snap, err: err})
		}()
	})
}

// View returns the current session surface. The message entries are
// immutable; the slice is safe to range over concurrently.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Updates signals whenever the view changed. Notifications are coalesced;
// consumers re-read View on every receive.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Submit validates and fires a message send. Only an Active session
// accepts sends. Nothing is rendered locally; the message appears once
// the server echoes it back on the stream.
func (s *Session) Submit(content string, att *models.Attachment) error {
	if strings.TrimSpace(content) == "" && att == nil {
		return ErrEmptyMessage
	}
	if att != nil {
		raw, err := attach.Decode(att)
		if err != nil {
			return err
		}
		if len(raw) > attach.MaxDecodedSize {
			return attach.ErrPayloadTooLarge
		}
	}

	s.mu.RLock()
	st := s.view.State
	s.mu.RUnlock()
	if st.Terminal() {
		return ErrSessionClosed
	}
	if st != StateActive {
		return ErrNotReady
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	s.channel.SendMessage(models.Outbound{
		ChatID:     s.chatID,
		Sender:     s.userID,
		Content:    content,
		Attachment: att,
	})
	return nil
}

// Teardown stops the countdown, closes the channel and discards the
// message sequence, in that order. Idempotent; once it returns no
// callback or tick is applied.
func (s *Session) Teardown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		tracker := s.tracker
		s.mu.Unlock()
		if tracker != nil {
			tracker.Stop()
		}
		_ = s.channel.Close()
		close(s.closed)
		s.wg.Wait()

		s.mu.Lock()
		s.view.Messages = nil
		s.seen = nil
		s.pending = nil
		s.mu.Unlock()
	})
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case ev := <-s.events:
			s.apply(ev)
		}
	}
}

// apply is the single place state mutates. Events land here in transport
// delivery order; the engine never reorders, only deduplicates.
func (s *Session) apply(ev event) {
	s.mu.Lock()
	changed := s.applyLocked(ev)
	s.mu.Unlock()
	if changed {
		select {
		case s.updates <- struct{}{}:
		default:
		}
	}
}

func (s *Session) applyLocked(ev event) bool {
	if s.view.State.Terminal() {
		// Terminal states are sticky: nothing mutates from here.
		return false
	}

	switch ev.kind {
	case evConnected:
		if s.view.State == StateConnecting {
			s.view.State = StateSyncing
			return true
		}
		return false

	case evConnectError:
		// The adapter keeps retrying below us; not user-fatal.
		s.log.Warn().Err(ev.err).Msg("socket connect error")
		return false

	case evDisconnected:
		s.log.Warn().Err(ev.err).Msg("socket disconnected, reconnecting")
		return false

	case evSnapshot:
		return s.applySnapshotLocked(ev)

	case evMessage:
		if !s.snapshotLoaded {
			// Live events arriving ahead of the snapshot are never
			// dropped; they merge once the snapshot resolves.
			s.pending = append(s.pending, ev.msg)
			return false
		}
		return s.appendLocked(ev.msg)

	case evUserCount:
		if s.view.Online == ev.count {
			return false
		}
		s.view.Online = ev.count
		return true

	case evTick:
		s.view.TimeLeft = ev.label
		return true

	case evChatExpired, evTrackerExpired:
		s.expireLocked()
		return true
	}
	return false
}

func (s *Session) applySnapshotLocked(ev event) bool {
	if s.snapshotLoaded {
		return false
	}
	if ev.err != nil {
		s.log.Error().Err(ev.err).Msg("snapshot fetch failed")
		s.view.State = StateError
		s.view.Err = ev.err
		s.stopLiveLocked()
		return true
	}

	snap := ev.snap
	s.snapshotLoaded = true

	if !snap.Chat.ExpiresAt.After(s.deps.Now()) {
		// Already past expiry at snapshot time: straight to Expired,
		// never Active.
		s.expireLocked()
		return true
	}

	for _, msg := range snap.Messages {
		s.appendLocked(msg)
	}
	merged := s.pending
	s.pending = nil
	for _, msg := range merged {
		s.appendLocked(msg)
	}

	s.expiresAt = snap.Chat.ExpiresAt
	s.view.TimeLeft = expiry.FormatLeft(s.expiresAt.Sub(s.deps.Now()))
	s.view.State = StateActive

	t := expiry.New(
		func(label string) { s.post(event{kind: evTick, label: label}) },
		func() { s.post(event{kind: evTrackerExpired}) },
	)
	t.Interval = s.deps.TickEvery
	t.Now = s.deps.Now
	s.tracker = t
	t.Start(s.expiresAt)
	return true
}

// appendLocked adds msg unless its id was already merged from any source.
func (s *Session) appendLocked(msg models.Message) bool {
	if _, ok := s.seen[msg.ID]; ok {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	msg.IsSelf = msg.Sender == s.userID
	s.view.Messages = append(s.view.Messages, msg)
	return true
}

func (s *Session) expireLocked() {
	s.view.State = StateExpired
	s.view.TimeLeft = "Expired"
	s.stopLiveLocked()
}

// stopLiveLocked shuts down the channel and tracker without waiting;
// both tolerate late shutdown and the terminal guard drops any event
// still in flight.
func (s *Session) stopLiveLocked() {
	if s.tracker != nil {
		t := s.tracker
		go t.Stop()
	}
	ch := s.channel
	go func() { _ = ch.Close() }()
}
