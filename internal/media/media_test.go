package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/negotiation"
)

func TestLooksTunnelled(t *testing.T) {
	assert.True(t, looksTunnelled("wg0", nil))
	assert.True(t, looksTunnelled("utun3", nil))
	assert.True(t, looksTunnelled("CloudflareWARP", nil))
	assert.True(t, looksTunnelled("eth0", []net.IP{net.ParseIP("100.101.3.4")}))
	assert.False(t, looksTunnelled("eth0", []net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("100.128.0.1")}))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(&config.Config{STUNServer: config.DefaultSTUN})
	require.Len(t, opts.ICEServers, 1)
	assert.Equal(t, []string{config.DefaultSTUN}, opts.ICEServers[0].URLs)
	assert.False(t, opts.ForceRelay)

	opts = OptionsFromConfig(&config.Config{
		STUNServer: config.DefaultSTUN,
		TURNServer: "turn.example.com",
		TURNUser:   "user",
		TURNPass:   "pass",
		ForceRelay: true,
	})
	require.Len(t, opts.ICEServers, 2)
	assert.Equal(t, "user", opts.ICEServers[1].Username)
	assert.Equal(t, "pass", opts.ICEServers[1].Credential)
	assert.True(t, opts.ForceRelay)

	// Relay-only without a TURN server would never connect.
	opts = OptionsFromConfig(&config.Config{ForceRelay: true})
	assert.Empty(t, opts.ICEServers)
	assert.False(t, opts.ForceRelay)
}

func TestLoggerFactoryWritesToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l := LoggerFactory{Logger: logger}.NewLogger("ice")
	l.Debugf("hidden %d", 1)
	l.Warnf("candidate %s failed", "host")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "candidate host failed")
	assert.Contains(t, buf.String(), "scope=ice")
}

func TestMuteToggle(t *testing.T) {
	e, err := NewEngine(Options{})
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.Muted())
	e.SetMuted(true)
	assert.True(t, e.Muted())

	s, err := e.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

// relayEvents forwards local candidates to the other side once it exists.
type relayEvents struct {
	mu     sync.Mutex
	target negotiation.Handshake
	queued []json.RawMessage

	established chan struct{}
	once        sync.Once
}

func newRelayEvents() *relayEvents {
	return &relayEvents{established: make(chan struct{})}
}

func (r *relayEvents) Candidate(payload json.RawMessage) {
	r.mu.Lock()
	target := r.target
	if target == nil {
		r.queued = append(r.queued, payload)
	}
	r.mu.Unlock()
	if target != nil {
		target.Remote(negotiation.RemoteCandidate, payload)
	}
}

func (r *relayEvents) Established() { r.once.Do(func() { close(r.established) }) }
func (r *relayEvents) Failed(error) {}

func (r *relayEvents) connectTo(target negotiation.Handshake) {
	r.mu.Lock()
	r.target = target
	queued := r.queued
	r.queued = nil
	r.mu.Unlock()
	for _, c := range queued {
		target.Remote(negotiation.RemoteCandidate, c)
	}
}

func newVNetEngine(t *testing.T, router *vnet.Router, ip string) *Engine {
	t.Helper()
	nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(nw))

	e, err := NewEngine(Options{Net: nw})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestHandshakeOverVirtualNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full ICE and DTLS exchange")
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	caller := newVNetEngine(t, router, "10.0.0.2")
	callee := newVNetEngine(t, router, "10.0.0.3")
	require.NoError(t, router.Start())
	defer router.Stop()

	// A muted side still shows up as a live track for the caller.
	callee.SetMuted(true)

	callerStream, err := caller.Acquire()
	require.NoError(t, err)
	calleeStream, err := callee.Acquire()
	require.NoError(t, err)

	callerEvents, calleeEvents := newRelayEvents(), newRelayEvents()

	offerSide, err := caller.NewHandshake(callerStream, callerEvents)
	require.NoError(t, err)
	defer offerSide.Close()
	answerSide, err := callee.NewHandshake(calleeStream, calleeEvents)
	require.NoError(t, err)
	defer answerSide.Close()

	offer, err := offerSide.Offer()
	require.NoError(t, err)
	var desc pion.SessionDescription
	require.NoError(t, json.Unmarshal(offer, &desc))
	assert.Equal(t, pion.SDPTypeOffer, desc.Type)
	assert.Contains(t, desc.SDP, "opus")

	// Candidates reaching the answer side before the offer are held back.
	callerEvents.connectTo(answerSide)

	answer, err := answerSide.Accept(offer)
	require.NoError(t, err)
	calleeEvents.connectTo(offerSide)
	require.NoError(t, offerSide.Remote(negotiation.RemoteAnswer, answer))

	for name, ch := range map[string]chan struct{}{"caller": callerEvents.established, "callee": calleeEvents.established} {
		select {
		case <-ch:
		case <-time.After(15 * time.Second):
			t.Fatalf("%s never connected", name)
		}
	}
}

type countingEvents struct {
	mu          sync.Mutex
	established int
}

func (c *countingEvents) Candidate(json.RawMessage) {}
func (c *countingEvents) Failed(error)              {}

func (c *countingEvents) Established() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.established++
}

func (c *countingEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established
}

func TestEstablishedNeedsConnectionAndRemoteTrack(t *testing.T) {
	for _, order := range [][]string{{"connected", "track"}, {"track", "connected"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			events := &countingEvents{}
			h := &peerHandshake{events: events}
			mark := map[string]func(){
				"connected": func() { h.connected = true },
				"track":     func() { h.gotTrack = true },
			}

			h.progress(mark[order[0]])
			assert.Equal(t, 0, events.count())
			h.progress(mark[order[1]])
			assert.Equal(t, 1, events.count())

			// Reported once per attempt.
			h.progress(mark[order[0]])
			assert.Equal(t, 1, events.count())
		})
	}
}

func TestEstablishedNotReportedAfterClose(t *testing.T) {
	events := &countingEvents{}
	h := &peerHandshake{events: events}
	h.closed.Store(true)

	h.progress(func() { h.connected = true })
	h.progress(func() { h.gotTrack = true })
	assert.Equal(t, 0, events.count())
}

func TestRemoteRejectsWrongDescription(t *testing.T) {
	e, err := NewEngine(Options{})
	require.NoError(t, err)
	defer e.Close()

	h, err := e.NewHandshake(nil, newRelayEvents())
	require.NoError(t, err)
	defer h.Close()

	offer, err := h.Offer()
	require.NoError(t, err)

	err = h.Remote(negotiation.RemoteAnswer, offer)
	assert.True(t, errors.Is(err, ErrUnexpectedSDP))

	_, err = h.Accept(json.RawMessage(`{"type":"answer","sdp":""}`))
	assert.True(t, errors.Is(err, ErrUnexpectedSDP))

	err = h.Remote("bogus", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnsupportedRemote))
}
