package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultRetryTimeout = 10 * time.Second
	DefaultMaxAttempts  = 3

	eventBuffer = 128
)

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock behind the retry and guard timers.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger. The machine adds its own handle to it.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithObserver sets who is told about state changes and notices.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithRetry sets how long an offer may wait for a live media path and how
// many offers are made per match.
func WithRetry(timeout time.Duration, maxAttempts int) Option {
	return func(m *Machine) {
		if timeout > 0 {
			m.retryTimeout = timeout
		}
		if maxAttempts > 0 {
			m.maxAttempts = maxAttempts
		}
	}
}

// Machine is the client-side call negotiation state machine.
type Machine struct {
	self     string
	signaler Signaler
	media    Media
	observer Observer
	clock    clock.Clock
	logger   *slog.Logger

	retryTimeout time.Duration
	maxAttempts  int

	events chan Event
	done   chan struct{}

	// Owned by the Run goroutine.
	state       State
	role        Role
	partner     string
	attempt     int
	tag         uint64
	stream      Stream
	handshake   Handshake
	timer       *clock.Timer
	answered    bool
	engaged     bool
	cancelled   bool
	connectedAt time.Time

	mu   sync.Mutex
	snap Snapshot
}

// New creates a machine for the client whose handle is self.
func New(self string, signaler Signaler, media Media, opts ...Option) *Machine {
	m := &Machine{
		self:         self,
		signaler:     signaler,
		media:        media,
		observer:     nopObserver{},
		clock:        clock.New(),
		logger:       slog.Default(),
		retryTimeout: DefaultRetryTimeout,
		maxAttempts:  DefaultMaxAttempts,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("self", self)
	return m
}

// Run processes events until ctx is cancelled, then releases local media.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Post queues ev. It reports false once Run has returned.
func (m *Machine) Post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Start asks the server for a random partner.
func (m *Machine) Start() bool { return m.Post(Event{Kind: EventStart}) }

// End hangs up, or cancels a search in progress.
func (m *Machine) End() bool { return m.Post(Event{Kind: EventEnd}) }

// Skip drops the current partner and looks for another one.
func (m *Machine) Skip() bool { return m.Post(Event{Kind: EventSkip}) }

// Snapshot returns the last published state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Self returns the client's own handle.
func (m *Machine) Self() string {
	return m.self
}

func (m *Machine) handle(ev Event) {
	m.logger.Debug("negotiation event", "event", ev.Kind, "state", m.state, "from", ev.From)

	switch ev.Kind {
	case EventStart:
		m.onStart()
	case EventEnd:
		m.onEnd()
	case EventSkip:
		m.onSkip()
	case EventPartnerFound:
		m.onPartnerFound(ev.From)
	case EventNoPartner:
		m.onNoPartner()
	case EventOfferReceived:
		m.onOffer(ev)
	case EventAnswerReceived:
		m.onAnswer(ev)
	case EventCandidateReceived:
		m.onRemoteCandidate(ev)
	case EventRemoteEnded:
		m.onTeardown(ev.From, Notice{Kind: NoticePartnerEnded, Text: "Partner ended the call"})
	case EventPartnerLeft:
		m.onTeardown("", Notice{Kind: NoticePartnerLeft, Text: "Partner left"})
	case EventPartnerBusy:
		m.onTeardown(ev.From, Notice{Kind: NoticePartnerBusy, Text: "Partner is busy"})
	case EventLocalCandidate:
		m.onLocalCandidate(ev)
	case EventEstablished:
		m.onEstablished(ev)
	case EventHandshakeFailed:
		m.onHandshakeFailed(ev)
	case EventTimeout:
		m.onTimeout(ev)
	}
}

func (m *Machine) onStart() {
	switch m.state {
	case Idle:
		m.request()
	case Failed:
		m.finish(true, true)
		m.request()
	}
}

func (m *Machine) request() {
	if err := m.signaler.FindPartner(); err != nil {
		m.notice(Notice{Kind: NoticeSignaling, Text: "Could not reach the server", Err: WrapError("find partner", ErrSignaling, err.Error())})
		return
	}
	m.cancelled = false
	m.setState(Requesting)
}

func (m *Machine) onEnd() {
	switch {
	case m.state == Requesting:
		// The server still answers the outstanding request.
		m.cancelled = true
		m.setState(Idle)
	case m.state.paired():
		m.finish(true, true)
	}
}

func (m *Machine) onSkip() {
	switch {
	case m.state == Idle:
		m.request()
	case m.state.paired():
		partner := m.partner
		// The server tells the partner; no call-ended is sent.
		m.finish(true, false)
		if err := m.signaler.NextPartner(partner); err != nil {
			m.notice(Notice{Kind: NoticeSignaling, Text: "Could not reach the server", Err: WrapError("next partner", ErrSignaling, err.Error())})
			return
		}
		m.cancelled = false
		m.setState(Requesting)
	}
}

func (m *Machine) onPartnerFound(partner string) {
	switch m.state {
	case Requesting:
	case Idle:
		if m.cancelled {
			// Answer to a search the user already cancelled.
			m.cancelled = false
			m.logger.Debug("declining match for cancelled search", "partner", partner)
			if err := m.signaler.EndCall(partner); err != nil {
				m.logger.Warn("decline match", "partner", partner, "err", err)
			}
			return
		}
	case Matched:
		if partner != m.partner {
			m.logger.Warn("ignoring second match", "partner", partner, "current", m.partner)
		}
		return
	default:
		m.logger.Debug("ignoring match", "partner", partner, "state", m.state)
		return
	}

	m.partner = partner
	m.role = RoleFor(m.self, partner)
	m.attempt = 0
	m.setState(Matched)

	stream, err := m.media.Acquire()
	if err != nil {
		m.fail(Notice{
			Kind: NoticeMediaAccess,
			Text: "Could not access camera or microphone",
			Err:  WrapError("acquire media", ErrMediaAccess, err.Error()),
		})
		return
	}
	m.stream = stream

	if m.role == RoleInitiator {
		m.offer()
	}
}

func (m *Machine) onNoPartner() {
	switch m.state {
	case Requesting:
		m.setState(Idle)
		m.notice(Notice{Kind: NoticeNoPartner, Text: "No partner available"})
	case Idle:
		m.cancelled = false
	}
}

// newHandshake replaces the current attempt with a fresh one numbered attempt.
func (m *Machine) newHandshake(attempt int) (Handshake, error) {
	m.stopTimer()
	m.closeHandshake()
	m.attempt = attempt
	m.answered = false
	m.tag++
	hs, err := m.media.NewHandshake(m.stream, attemptEvents{m: m, tag: m.tag})
	if err != nil {
		return nil, err
	}
	m.handshake = hs
	return hs, nil
}

// offer runs one initiator attempt: fresh handshake, offer, call-user and the
// retry timer.
func (m *Machine) offer() {
	hs, err := m.newHandshake(m.attempt + 1)
	if err != nil {
		m.failHandshake("create handshake", err)
		return
	}
	payload, err := hs.Offer()
	if err != nil {
		m.failHandshake("create offer", err)
		return
	}

	m.armTimer()

	if err := m.signaler.CallUser(m.partner, payload, m.attempt); err != nil {
		m.failSignaling("call user", err)
		return
	}
	m.engaged = true

	if m.attempt == 1 {
		m.setState(Initiating)
	} else {
		m.setState(Retrying)
	}
}

func (m *Machine) onOffer(ev Event) {
	if ev.From != m.partner || m.role != RoleAnswerer {
		if m.state == Idle {
			// Nobody matched us with this caller; release its session.
			m.logger.Debug("declining unsolicited offer", "from", ev.From)
			if err := m.signaler.EndCall(ev.From); err != nil {
				m.logger.Warn("decline offer", "from", ev.From, "err", err)
			}
			return
		}
		m.logger.Debug("ignoring offer", "from", ev.From, "partner", m.partner, "state", m.state)
		return
	}
	if m.state != Matched && m.state != Answering {
		m.logger.Debug("ignoring offer", "from", ev.From, "state", m.state)
		return
	}
	attempt := m.attempt + 1
	if ev.Attempt != 0 {
		if ev.Attempt <= m.attempt {
			m.logger.Debug("ignoring offer from an earlier attempt", "attempt", ev.Attempt, "current", m.attempt)
			return
		}
		attempt = ev.Attempt
	}

	hs, err := m.newHandshake(attempt)
	if err != nil {
		m.failHandshake("create handshake", err)
		return
	}
	answer, err := hs.Accept(ev.Payload)
	if err != nil {
		m.failHandshake("accept offer", err)
		return
	}
	if err := m.signaler.AcceptCall(m.partner, answer, m.attempt); err != nil {
		m.failSignaling("accept call", err)
		return
	}
	m.engaged = true
	m.setState(Answering)
}

func (m *Machine) onAnswer(ev Event) {
	if ev.From != m.partner || (m.state != Initiating && m.state != Retrying) {
		m.logger.Debug("ignoring answer", "from", ev.From, "state", m.state)
		return
	}
	if m.stale(ev) || m.answered {
		m.logger.Debug("ignoring answer", "attempt", ev.Attempt, "current", m.attempt, "answered", m.answered)
		return
	}
	if err := m.handshake.Remote(RemoteAnswer, ev.Payload); err != nil {
		m.failHandshake("apply answer", err)
		return
	}
	m.answered = true
}

func (m *Machine) onRemoteCandidate(ev Event) {
	if ev.From != m.partner || m.handshake == nil || m.stale(ev) {
		return
	}
	if !m.state.negotiating() && m.state != Connected {
		return
	}
	if err := m.handshake.Remote(RemoteCandidate, ev.Payload); err != nil {
		m.logger.Warn("apply remote candidate", "partner", m.partner, "err", err)
	}
}

func (m *Machine) onLocalCandidate(ev Event) {
	if ev.Tag != m.tag || m.handshake == nil {
		return
	}
	if err := m.signaler.SendCandidate(m.partner, ev.Payload, m.attempt); err != nil {
		m.logger.Warn("send candidate", "partner", m.partner, "err", err)
	}
}

func (m *Machine) onEstablished(ev Event) {
	if ev.Tag != m.tag || !m.state.negotiating() {
		return
	}
	m.stopTimer()
	m.connectedAt = m.clock.Now()
	m.setState(Connected)
}

func (m *Machine) onHandshakeFailed(ev Event) {
	if ev.Tag != m.tag {
		return
	}
	switch m.state {
	case Initiating, Retrying:
		m.logger.Info("handshake attempt failed", "attempt", m.attempt, "err", ev.Err)
		m.retry()
	case Answering:
		if m.attempt >= m.maxAttempts {
			m.giveUp()
			return
		}
		// The initiator retries with a fresh offer; wait one retry period for it.
		m.logger.Info("handshake attempt failed, waiting for a new offer", "attempt", m.attempt, "err", ev.Err)
		m.armTimer()
	case Connected:
		m.fail(Notice{
			Kind: NoticeConnectionLost,
			Text: "Connection lost",
			Err:  WrapError("media connection", ErrHandshake, errText(ev.Err)),
		})
	}
}

func (m *Machine) onTimeout(ev Event) {
	if ev.Tag != m.tag {
		return
	}
	switch m.state {
	case Initiating, Retrying:
		m.logger.Info("handshake attempt timed out", "attempt", m.attempt, "partner", m.partner)
		m.retry()
	case Answering:
		m.logger.Info("no new offer after failed attempt", "attempt", m.attempt, "partner", m.partner)
		m.giveUp()
	}
}

func (m *Machine) retry() {
	if m.attempt >= m.maxAttempts {
		m.giveUp()
		return
	}
	m.offer()
}

func (m *Machine) giveUp() {
	m.fail(Notice{
		Kind: NoticeNegotiationFailed,
		Text: "Could not connect to partner",
		Err:  WrapError("negotiate", ErrNegotiationTimeout, fmt.Sprintf("%d attempts", m.attempt)),
	})
}

// stale reports whether a signaled payload belongs to an earlier attempt.
func (m *Machine) stale(ev Event) bool {
	return ev.Attempt != 0 && ev.Attempt != m.attempt
}

func (m *Machine) onTeardown(from string, n Notice) {
	if !m.state.paired() {
		return
	}
	if from != "" && from != m.partner {
		m.logger.Debug("ignoring teardown from stale partner", "from", from, "partner", m.partner)
		return
	}
	m.finish(false, false)
	m.notice(n)
}

// finish releases the call and passes through Ended back to Idle. call-ended
// is sent only for a local end of a call that got as far as an offer.
func (m *Machine) finish(local, sendEnd bool) {
	partner := m.partner
	engaged := m.engaged

	m.stopTimer()
	m.release()
	if local && sendEnd && engaged && partner != "" {
		if err := m.signaler.EndCall(partner); err != nil {
			m.logger.Warn("send call-ended", "partner", partner, "err", err)
		}
	}

	m.setState(Ended)

	m.partner = ""
	m.role = RoleNone
	m.attempt = 0
	m.engaged = false
	m.connectedAt = time.Time{}
	m.setState(Idle)
}

// fail stops negotiating and tells the partner, so the server frees both
// sides. The local stream is kept until the user ends or restarts.
func (m *Machine) fail(n Notice) {
	m.stopTimer()
	m.closeHandshake()
	if m.engaged && m.partner != "" {
		if err := m.signaler.EndCall(m.partner); err != nil {
			m.logger.Warn("send call-ended", "partner", m.partner, "err", err)
		}
		m.engaged = false
	}
	m.setState(Failed)
	m.notice(n)
}

func (m *Machine) failHandshake(op string, err error) {
	m.fail(Notice{
		Kind: NoticeNegotiationFailed,
		Text: "Could not connect to partner",
		Err:  WrapError(op, ErrHandshake, err.Error()),
	})
}

func (m *Machine) failSignaling(op string, err error) {
	m.fail(Notice{
		Kind: NoticeSignaling,
		Text: "Could not reach the server",
		Err:  WrapError(op, ErrSignaling, err.Error()),
	})
}

// armTimer starts the retry period for the live attempt.
func (m *Machine) armTimer() {
	m.stopTimer()
	tag := m.tag
	m.timer = m.clock.AfterFunc(m.retryTimeout, func() {
		m.Post(Event{Kind: EventTimeout, Tag: tag})
	})
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) closeHandshake() {
	if m.handshake == nil {
		return
	}
	if err := m.handshake.Close(); err != nil {
		m.logger.Debug("close handshake", "err", err)
	}
	m.handshake = nil
}

// release drops the handshake and the local stream.
func (m *Machine) release() {
	m.stopTimer()
	m.closeHandshake()
	if m.stream != nil {
		if err := m.stream.Close(); err != nil {
			m.logger.Debug("close stream", "err", err)
		}
		m.stream = nil
	}
}

func (m *Machine) setState(s State) {
	prev := m.state
	m.state = s

	snap := Snapshot{
		State:       s,
		Role:        m.role,
		Partner:     m.partner,
		Attempt:     m.attempt,
		ConnectedAt: m.connectedAt,
	}
	if prev != s {
		m.logger.Debug("negotiation state", "from", prev, "to", s, "partner", m.partner, "attempt", m.attempt)
	}
	m.observer.StateChanged(snap)

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

func (m *Machine) notice(n Notice) {
	if n.Err != nil {
		m.logger.Info(n.Text, "err", n.Err)
	}
	m.observer.Notice(n)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
