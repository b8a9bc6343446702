package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pattersondev/voynich-client/internal/attach"
	"github.com/pattersondev/voynich-client/internal/live"
	"github.com/pattersondev/voynich-client/internal/models"
)

type fakeIdentity struct{ id string }

func (f fakeIdentity) UserID(string) string { return f.id }

// fakeChannel records calls and hands the handler back to the test so it
// can drive socket events directly.
type fakeChannel struct {
	mu      sync.Mutex
	handler live.Handler
	sent    []models.Outbound
	joined  bool
	closed  bool
}

func (f *fakeChannel) Connect() {
	f.handler.Connected()
}

func (f *fakeChannel) Join(chatID, userID string) {
	f.mu.Lock()
	f.joined = true
	f.mu.Unlock()
}

func (f *fakeChannel) SendMessage(msg models.Outbound) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Sent() []models.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Outbound(nil), f.sent...)
}

func (f *fakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fixture struct {
	sess    *Session
	channel *fakeChannel
	// release unblocks the snapshot fetch; the snapshot stays pending
	// until the test calls it.
	release func()
}

func newFixture(t *testing.T, snap *models.Snapshot, snapErr error) *fixture {
	t.Helper()
	channel := &fakeChannel{}
	release := make(chan struct{})
	deps := Deps{
		Identity: fakeIdentity{id: "self-id1"},
		Dial: func(h live.Handler) live.Channel {
			channel.handler = h
			return channel
		},
		Snapshot: func(ctx context.Context, chatID string) (*models.Snapshot, error) {
			<-release
			return snap, snapErr
		},
		Logger:    zerolog.Nop(),
		TickEvery: time.Hour,
	}
	sess := New("chat-1", deps)
	t.Cleanup(sess.Teardown)
	return &fixture{
		sess:    sess,
		channel: channel,
		release: func() { close(release) },
	}
}

func msg(id, sender, content string) models.Message {
	return models.Message{ID: id, Sender: sender, Content: content, CreatedAt: time.Now().UTC()}
}

func futureSnapshot(msgs ...models.Message) *models.Snapshot {
	return &models.Snapshot{
		Chat:     models.ChatInfo{ID: "chat-1", ExpiresAt: time.Now().Add(time.Hour)},
		Messages: msgs,
	}
}

func waitFor(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := s.View()
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition never met, last view: state=%v msgs=%d err=%v", v.State, len(v.Messages), v.Err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSession_SnapshotThenLive_Dedup(t *testing.T) {
	f := newFixture(t, futureSnapshot(
		msg("m1", "other-id1", "first"),
		msg("m2", "self-id1", "second"),
	), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	// m2 is redelivered on the stream; m3 is new.
	f.channel.handler.Message(msg("m2", "self-id1", "second"))
	f.channel.handler.Message(msg("m3", "other-id1", "third"))

	v := waitFor(t, f.sess, func(v View) bool { return len(v.Messages) == 3 })

	ids := []string{v.Messages[0].ID, v.Messages[1].ID, v.Messages[2].ID}
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("message order = %v, want %v", ids, want)
		}
	}
	if v.Messages[0].IsSelf {
		t.Error("m1 tagged IsSelf, sender differs from identity")
	}
	if !v.Messages[1].IsSelf {
		t.Error("m2 not tagged IsSelf, sender matches identity")
	}
}

func TestSession_LiveBeforeSnapshot_Buffered(t *testing.T) {
	f := newFixture(t, futureSnapshot(
		msg("m1", "other-id1", "history"),
	), nil)

	f.sess.Start(context.Background())
	waitFor(t, f.sess, func(v View) bool { return v.State == StateSyncing })

	// Arrives while the snapshot is still in flight.
	f.channel.handler.Message(msg("m2", "other-id1", "live"))

	if v := f.sess.View(); len(v.Messages) != 0 {
		t.Fatalf("messages rendered before snapshot: %d", len(v.Messages))
	}

	f.release()
	v := waitFor(t, f.sess, func(v View) bool { return v.State == StateActive && len(v.Messages) == 2 })

	if v.Messages[0].ID != "m1" || v.Messages[1].ID != "m2" {
		t.Errorf("merge order = %q, %q; want m1, m2", v.Messages[0].ID, v.Messages[1].ID)
	}
}

func TestSession_ExpiredAtSnapshot(t *testing.T) {
	snap := &models.Snapshot{
		Chat: models.ChatInfo{ID: "chat-1", ExpiresAt: time.Now().Add(-time.Minute)},
	}
	f := newFixture(t, snap, nil)

	f.sess.Start(context.Background())
	f.release()
	v := waitFor(t, f.sess, func(v View) bool { return v.State.Terminal() })

	if v.State != StateExpired {
		t.Fatalf("state = %v, want expired", v.State)
	}
	if v.TimeLeft != "Expired" {
		t.Errorf("TimeLeft = %q, want Expired", v.TimeLeft)
	}
	waitFor(t, f.sess, func(View) bool { return f.channel.Closed() })
}

func TestSession_SnapshotError(t *testing.T) {
	cause := errors.New("backend unreachable")
	f := newFixture(t, nil, cause)

	f.sess.Start(context.Background())
	f.release()
	v := waitFor(t, f.sess, func(v View) bool { return v.State.Terminal() })

	if v.State != StateError {
		t.Fatalf("state = %v, want error", v.State)
	}
	if !errors.Is(v.Err, cause) {
		t.Errorf("view Err = %v, want %v", v.Err, cause)
	}
}

func TestSession_ChatExpiredEvent(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	f.channel.handler.ChatExpired()
	v := waitFor(t, f.sess, func(v View) bool { return v.State == StateExpired })

	if v.TimeLeft != "Expired" {
		t.Errorf("TimeLeft = %q, want Expired", v.TimeLeft)
	}
}

func TestSession_TerminalIsSticky(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	f.channel.handler.ChatExpired()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateExpired })

	// Late stream traffic must not resurrect the session.
	f.channel.handler.Message(msg("late", "other-id1", "too late"))
	f.channel.handler.UserCount(7)
	time.Sleep(20 * time.Millisecond)

	v := f.sess.View()
	if v.State != StateExpired {
		t.Errorf("state = %v after late events, want expired", v.State)
	}
	if len(v.Messages) != 0 {
		t.Errorf("late message rendered in terminal state")
	}
	if v.Online == 7 {
		t.Error("userCount applied in terminal state")
	}

	if err := f.sess.Submit("hello", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Submit after expiry = %v, want ErrSessionClosed", err)
	}
}

func TestSession_TrackerExpiry(t *testing.T) {
	channel := &fakeChannel{}
	release := make(chan struct{})
	close(release)
	deps := Deps{
		Identity: fakeIdentity{id: "self-id1"},
		Dial: func(h live.Handler) live.Channel {
			channel.handler = h
			return channel
		},
		Snapshot: func(ctx context.Context, chatID string) (*models.Snapshot, error) {
			return &models.Snapshot{
				Chat: models.ChatInfo{ID: "chat-1", ExpiresAt: time.Now().Add(30 * time.Millisecond)},
			}, nil
		},
		Logger:    zerolog.Nop(),
		TickEvery: time.Millisecond,
	}
	sess := New("chat-1", deps)
	t.Cleanup(sess.Teardown)

	sess.Start(context.Background())
	v := waitFor(t, sess, func(v View) bool { return v.State == StateExpired })

	if v.TimeLeft != "Expired" {
		t.Errorf("TimeLeft = %q, want Expired", v.TimeLeft)
	}
}

func TestSession_UserCount(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	if got := f.sess.View().Online; got != 1 {
		t.Errorf("initial Online = %d, want 1", got)
	}

	f.channel.handler.UserCount(3)
	waitFor(t, f.sess, func(v View) bool { return v.Online == 3 })
}

func TestSession_SubmitBeforeActive(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	waitFor(t, f.sess, func(v View) bool { return v.State == StateSyncing })

	if err := f.sess.Submit("too early", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Submit while syncing = %v, want ErrNotReady", err)
	}
	if got := len(f.channel.Sent()); got != 0 {
		t.Errorf("%d messages sent before Active, want 0", got)
	}

	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	if err := f.sess.Submit("now fine", nil); err != nil {
		t.Errorf("Submit once Active = %v, want nil", err)
	}
}

func TestSession_Submit(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	if err := f.sess.Submit("", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Submit empty = %v, want ErrEmptyMessage", err)
	}
	if err := f.sess.Submit("   \t  ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Submit whitespace = %v, want ErrEmptyMessage", err)
	}

	big := &models.Attachment{
		Name: "big.bin",
		Type: "application/octet-stream",
		Data: base64.StdEncoding.EncodeToString(make([]byte, attach.MaxDecodedSize+1)),
	}
	if err := f.sess.Submit("", big); !errors.Is(err, attach.ErrPayloadTooLarge) {
		t.Errorf("Submit oversized attachment = %v, want ErrPayloadTooLarge", err)
	}

	att := &models.Attachment{
		Name: "note.txt",
		Type: "text/plain",
		Data: base64.StdEncoding.EncodeToString([]byte("hi")),
	}
	if err := f.sess.Submit("", att); err != nil {
		t.Errorf("Submit attachment-only = %v, want nil", err)
	}
	if err := f.sess.Submit("hello", nil); err != nil {
		t.Errorf("Submit text = %v, want nil", err)
	}

	sent := f.channel.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	for _, out := range sent {
		if out.ChatID != "chat-1" || out.Sender != "self-id1" {
			t.Errorf("outbound = %+v, want chat-1 from self-id1", out)
		}
	}

	// Nothing renders until the server echoes the message back.
	if got := len(f.sess.View().Messages); got != 0 {
		t.Errorf("messages rendered before echo: %d", got)
	}
	f.channel.handler.Message(msg("m1", "self-id1", "hello"))
	v := waitFor(t, f.sess, func(v View) bool { return len(v.Messages) == 1 })
	if !v.Messages[0].IsSelf || v.Messages[0].Content != "hello" {
		t.Errorf("echoed message = %+v, want self hello", v.Messages[0])
	}
}

func TestSession_Teardown(t *testing.T) {
	f := newFixture(t, futureSnapshot(msg("m1", "other-id1", "hi")), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	f.sess.Teardown()

	if !f.channel.Closed() {
		t.Error("channel not closed by Teardown")
	}
	if got := len(f.sess.View().Messages); got != 0 {
		t.Errorf("Teardown left %d messages, want 0", got)
	}
	if err := f.sess.Submit("hello", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Submit after Teardown = %v, want ErrSessionClosed", err)
	}
	f.sess.Teardown()
}

func TestSession_UpdatesCoalesce(t *testing.T) {
	f := newFixture(t, futureSnapshot(), nil)

	f.sess.Start(context.Background())
	f.release()
	waitFor(t, f.sess, func(v View) bool { return v.State == StateActive })

	for i := 0; i < 10; i++ {
		f.channel.handler.Message(msg("m"+strings.Repeat("x", i+1), "other-id1", "spam"))
	}
	waitFor(t, f.sess, func(v View) bool { return len(v.Messages) == 10 })

	// Every receive means "re-read View"; the channel never backs up.
	drained := 0
	for {
		select {
		case <-f.sess.Updates():
			drained++
			continue
		default:
		}
		break
	}
	if drained > 1 {
		t.Errorf("updates channel held %d notifications, want at most 1", drained)
	}
}
