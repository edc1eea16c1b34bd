package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type call struct {
	Op      string
	Target  string
	Payload string
	Attempt int
}

type fakeSignaler struct {
	mu    sync.Mutex
	calls []call

	callUserErr error
}

func (s *fakeSignaler) record(op, target string, payload json.RawMessage, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{Op: op, Target: target, Payload: string(payload), Attempt: attempt})
	if op == "call-user" {
		return s.callUserErr
	}
	return nil
}

func (s *fakeSignaler) FindPartner() error { return s.record("find-random-user", "", nil, 0) }
func (s *fakeSignaler) NextPartner(current string) error {
	return s.record("next-partner", current, nil, 0)
}
func (s *fakeSignaler) CallUser(target string, offer json.RawMessage, attempt int) error {
	return s.record("call-user", target, offer, attempt)
}
func (s *fakeSignaler) AcceptCall(target string, answer json.RawMessage, attempt int) error {
	return s.record("call-accepted", target, answer, attempt)
}
func (s *fakeSignaler) SendCandidate(target string, candidate json.RawMessage, attempt int) error {
	return s.record("ice-candidate", target, candidate, attempt)
}
func (s *fakeSignaler) EndCall(target string) error { return s.record("call-ended", target, nil, 0) }

func (s *fakeSignaler) ops(op string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeSignaler) count(op string) int { return len(s.ops(op)) }

type fakeStream struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeHandshake struct {
	n      int
	events HandshakeEvents

	mu        sync.Mutex
	remote    []call
	closed    bool
	remoteErr error
}

func (h *fakeHandshake) Offer() (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","n":%d}`, h.n)), nil
}

func (h *fakeHandshake) Accept(offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","n":%d}`, h.n)), nil
}

func (h *fakeHandshake) Remote(kind RemoteKind, payload json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remote = append(h.remote, call{Op: string(kind), Payload: string(payload)})
	return h.remoteErr
}

func (h *fakeHandshake) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandshake) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandshake) remotes() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.remote...)
}

type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	remoteErr  error
	streams    []*fakeStream
	handshakes []*fakeHandshake
}

func (m *fakeMedia) Acquire() (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	s := &fakeStream{}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMedia) NewHandshake(stream Stream, events HandshakeEvents) (Handshake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream == nil {
		return nil, errors.New("no stream")
	}
	h := &fakeHandshake{n: len(m.handshakes) + 1, events: events, remoteErr: m.remoteErr}
	m.handshakes = append(m.handshakes, h)
	return h, nil
}

func (m *fakeMedia) handshake(i int) *fakeHandshake {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakes[i]
}

func (m *fakeMedia) handshakeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handshakes)
}

type fakeObserver struct {
	mu      sync.Mutex
	states  []State
	notices []Notice
}

func (o *fakeObserver) StateChanged(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s.State)
}

func (o *fakeObserver) Notice(n Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *fakeObserver) stateLog() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *fakeObserver) noticeLog() []Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notice(nil), o.notices...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	quiet   = 100 * time.Millisecond
)

type harness struct {
	t     *testing.T
	m     *Machine
	sig   *fakeSignaler
	media *fakeMedia
	obs   *fakeObserver
	clock *clock.Mock
}

func newHarness(t *testing.T, self string, media *fakeMedia) *harness {
	t.Helper()
	if media == nil {
		media = &fakeMedia{}
	}
	h := &harness{
		t:     t,
		sig:   &fakeSignaler{},
		media: media,
		obs:   &fakeObserver{},
		clock: clock.NewMock(),
	}
	h.m = New(self, h.sig, h.media, WithClock(h.clock), WithObserver(h.obs))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

func (h *harness) post(ev Event) {
	h.t.Helper()
	require.True(h.t, h.m.Post(ev))
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.m.Snapshot().State == s }, waitFor, tick,
		"state never became %s (is %s)", s, h.m.Snapshot().State)
}

func (h *harness) waitAttempt(s State, attempt int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		snap := h.m.Snapshot()
		return snap.State == s && snap.Attempt == attempt
	}, waitFor, tick, "never reached %s attempt %d (at %+v)", s, attempt, h.m.Snapshot())
}

func (h *harness) waitCalls(op string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.sig.count(op) == n }, waitFor, tick,
		"%s sent %d times, want %d", op, h.sig.count(op), n)
}

// waitNotice returns the first notice of the given kind.
func (h *harness) waitNotice(kind NoticeKind) Notice {
	h.t.Helper()
	var found Notice
	require.Eventually(h.t, func() bool {
		for _, n := range h.obs.noticeLog() {
			if n.Kind == kind {
				found = n
				return true
			}
		}
		return false
	}, waitFor, tick, "no notice of kind %d", kind)
	return found
}

// matchAs drives a fresh machine from Idle to a match with partner.
func (h *harness) matchAs(partner string) {
	h.t.Helper()
	require.True(h.t, h.m.Start())
	h.waitState(Requesting)
	h.post(Event{Kind: EventPartnerFound, From: partner})
}

// connectInitiator matches alice with bob and completes the first attempt.
func (h *harness) connectInitiator() {
	h.t.Helper()
	h.matchAs("bob")
	h.waitAttempt(Initiating, 1)
	h.post(Event{Kind: EventAnswerReceived, From: "bob", Payload: json.RawMessage(`{"type":"answer"}`)})
	h.media.handshake(0).events.Established()
	h.waitState(Connected)
}
