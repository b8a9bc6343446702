// Package expiry derives a countdown label and a terminal expired signal
// from an absolute expiry timestamp.
package expiry

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FormatLeft renders a remaining duration as a chain of whole units,
// e.g. "2d 3h 4m 5s". Zero-valued larger units are omitted; seconds are
// always rendered when nothing larger is, so the result is never empty.
func FormatLeft(d time.Duration) string {
	secondsLeft := int64(d / time.Second)
	if secondsLeft < 0 {
		secondsLeft = 0
	}
	days := secondsLeft / 86400
	hours := (secondsLeft % 86400) / 3600
	minutes := (secondsLeft % 3600) / 60
	seconds := secondsLeft % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// Tracker ticks once per Interval until the expiry instant passes, then
// fires onExpired exactly once and halts. Callbacks run on the tracker's
// own goroutine; Stop does not return while a callback is in flight, so
// nothing fires after Stop returns.
type Tracker struct {
	Interval time.Duration
	Now      func() time.Time

	onTick    func(label string)
	onExpired func()

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(onTick func(string), onExpired func()) *Tracker {
	return &Tracker{
		Interval:  time.Second,
		Now:       time.Now,
		onTick:    onTick,
		onExpired: onExpired,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins ticking toward expiresAt. Start is one-shot; calling it
// again is a no-op.
func (t *Tracker) Start(expiresAt time.Time) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	go t.run(expiresAt)
}

func (t *Tracker) run(expiresAt time.Time) {
	defer close(t.done)
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		left := expiresAt.Sub(t.Now())
		if left <= 0 {
			t.onExpired()
			return
		}
		t.onTick(FormatLeft(left))
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the tick. Idempotent, safe if Start was never called.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.done
	}
}
