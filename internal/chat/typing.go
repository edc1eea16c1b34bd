package chat

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTypingIdle is how long after the last keystroke typing-stop is sent.
const DefaultTypingIdle = 2 * time.Second

// Typist turns keystrokes into typing start and stop notifications. The
// first keystroke sends start; stop follows once keystrokes pause for the
// idle period or Stop is called.
type Typist struct {
	notify func(active bool)
	clock  clock.Clock
	idle   time.Duration

	mu     sync.Mutex
	typing bool
	timer  *clock.Timer
	gen    uint64
}

// TypistOption configures a Typist.
type TypistOption func(*Typist)

func WithTypingClock(c clock.Clock) TypistOption {
	return func(t *Typist) { t.clock = c }
}

func WithTypingIdle(d time.Duration) TypistOption {
	return func(t *Typist) { t.idle = d }
}

// NewTypist calls notify on every transition. notify must not block.
func NewTypist(notify func(active bool), opts ...TypistOption) *Typist {
	t := &Typist{
		notify: notify,
		clock:  clock.New(),
		idle:   DefaultTypingIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Keystroke records input activity.
func (t *Typist) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.typing {
		t.typing = true
		t.notify(true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.idle, func() { t.expire(gen) })
}

// Stop ends typing immediately, as when a message is sent.
func (t *Typist) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Typing reports whether a start has been sent without a matching stop.
func (t *Typist) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// expire ignores timers superseded by a later keystroke.
func (t *Typist) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.stopLocked()
}

func (t *Typist) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.typing {
		t.typing = false
		t.notify(false)
	}
}
