package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shuffle/internal/matchmaking"
	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

const waitTimeout = 2 * time.Second

// firstCandidate makes matchmaking deterministic: candidates are sorted, so
// index 0 is the alphabetically first idle user.
var firstCandidate = WithMatchmakerOptions(matchmaking.WithIntn(func(int) int { return 0 }))

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(Config{}, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func newTestClient(h *Hub, id string, buffer int) *Client {
	return &Client{ID: id, Hub: h, Send: make(chan *protocol.Message, buffer), codec: protocol.JSON}
}

// connect registers a client under a fixed handle and consumes its welcome.
func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := newTestClient(h, id, 64)
	h.Register <- c
	msg := expect(t, c, protocol.TypeWelcome)
	require.Equal(t, id, msg.UserID)
	return c
}

func say(t *testing.T, h *Hub, c *Client, msg *protocol.Message) {
	t.Helper()
	require.True(t, h.submit(c, msg))
}

// expect returns the next message of type typ, skipping idle-list broadcasts.
// Any other message in between fails the test.
func expect(t *testing.T, c *Client, typ string) *protocol.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.Send:
			require.True(t, ok, "%s: send channel closed while waiting for %s", c.ID, typ)
			if msg.Type == protocol.TypeActiveUsers && typ != protocol.TypeActiveUsers {
				continue
			}
			require.Equal(t, typ, msg.Type, "%s: unexpected message", c.ID)
			return msg
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s", c.ID, typ)
			return nil
		}
	}
}

// waitUsers reads until an idle-list broadcast equal to want arrives.
func waitUsers(t *testing.T, c *Client, want ...string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	want = append([]string{}, want...)
	last := []string{}
	for {
		select {
		case msg, ok := <-c.Send:
			require.True(t, ok, "%s: send channel closed", c.ID)
			if msg.Type != protocol.TypeActiveUsers {
				continue
			}
			last = last[:0]
			for _, u := range msg.Users {
				last = append(last, u.ID)
			}
			if assert.ObjectsAreEqual(want, last) {
				return
			}
		case <-deadline:
			t.Fatalf("%s: idle list never became %v (last %v)", c.ID, want, last)
		}
	}
}

// barrier round-trips an unknown message through the hub so that everything
// submitted by c before it has been dispatched.
func barrier(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	say(t, h, c, &protocol.Message{Type: "barrier"})
	expect(t, c, protocol.TypeError)
}

func TestWelcomeAndIdleBroadcast(t *testing.T) {
	h := startHub(t)

	alice := connect(t, h, "alice")
	waitUsers(t, alice, "alice")

	bob := connect(t, h, "bob")
	waitUsers(t, alice, "alice", "bob")
	waitUsers(t, bob, "alice", "bob")
}

func TestGeneratedHandlesAreUnique(t *testing.T) {
	h := startHub(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		c := newTestClient(h, "", 64)
		h.Register <- c
		msg := expect(t, c, protocol.TypeWelcome)
		require.NotEmpty(t, msg.UserID)
		require.False(t, seen[msg.UserID], "duplicate handle %s", msg.UserID)
		seen[msg.UserID] = true
	}
}

func TestFindRandomUserNotifiesBothSides(t *testing.T) {
	h := startHub(t, firstCandidate)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})

	assert.Equal(t, "bob", expect(t, alice, protocol.TypeRandomUserFound).UserID)
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeRandomUserFound).UserID)
	waitUsers(t, alice)
}

func TestNoUserAvailable(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeNoUserAvailable)
}

func TestReservationClosesDoubleMatch(t *testing.T) {
	m := metrics.New()
	h := startHub(t, firstCandidate, WithMetrics(m))
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	say(t, h, carol, &protocol.Message{Type: protocol.TypeFindRandomUser})

	assert.Equal(t, "bob", expect(t, alice, protocol.TypeRandomUserFound).UserID)
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeRandomUserFound).UserID)
	// bob is reserved for alice, so carol has nobody left.
	expect(t, carol, protocol.TypeNoUserAvailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventMatchFound)))
}

func TestCrossedRequestsShareOneSession(t *testing.T) {
	h := startHub(t, firstCandidate)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeRandomUserFound).UserID)

	say(t, h, bob, &protocol.Message{Type: protocol.TypeFindRandomUser})
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeRandomUserFound).UserID)

	barrier(t, h, alice)
}

func TestReservationExpires(t *testing.T) {
	mock := clock.NewMock()
	m := metrics.New()
	h := startHub(t, firstCandidate, WithClock(mock), WithMetrics(m))
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	expect(t, bob, protocol.TypeRandomUserFound)

	mock.Add(DefaultReservationTTL)

	expect(t, alice, protocol.TypePartnerLeft)
	expect(t, bob, protocol.TypePartnerLeft)
	waitUsers(t, alice, "alice", "bob")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventReservationExpired)))
}

func TestActivatedSessionDoesNotExpire(t *testing.T) {
	mock := clock.NewMock()
	h := startHub(t, firstCandidate, WithClock(mock))
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	expect(t, bob, protocol.TypeRandomUserFound)

	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallUser, TargetID: "bob", Offer: json.RawMessage(`{"sdp":"o"}`)})
	expect(t, bob, protocol.TypeCallReceived)

	mock.Add(DefaultReservationTTL)

	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallEnded, TargetID: "bob"})
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeCallEnded).From)
}

func TestStartAndEndCallUpdateIdleList(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")
	waitUsers(t, carol, "alice", "bob", "carol")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallUser, TargetID: "bob", Offer: offer})

	got := expect(t, bob, protocol.TypeCallReceived)
	assert.Equal(t, "alice", got.From)
	assert.JSONEq(t, string(offer), string(got.Offer))
	waitUsers(t, carol, "carol")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallEnded, TargetID: "bob"})
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeCallEnded).From)
	waitUsers(t, carol, "alice", "bob", "carol")
}

func TestEndCallWithoutSessionIsNoop(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallEnded, TargetID: "bob"})
	barrier(t, h, alice)

	// bob's next non-broadcast message is the one sent after the no-op.
	say(t, h, alice, &protocol.Message{Type: protocol.TypeTypingStart, TargetID: "bob"})
	expect(t, bob, protocol.TypeTypingStart)
}

func TestRelayToAbsentTargetIsDropped(t *testing.T) {
	m := metrics.New()
	h := startHub(t, WithMetrics(m))
	alice := connect(t, h, "alice")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeICECandidate, TargetID: "ghost", Candidate: json.RawMessage(`{}`)})
	say(t, h, alice, &protocol.Message{Type: protocol.TypeCallUser, TargetID: "ghost", Offer: json.RawMessage(`{}`)})
	barrier(t, h, alice)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventTargetUnreachable)))
	assert.Zero(t, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventCallStarted)))
}

func TestHandshakeRelayKeepsPayload(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	answer := json.RawMessage(`{"type":"answer","sdp":"a"}`)
	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}`)

	say(t, h, bob, &protocol.Message{Type: protocol.TypeCallAccepted, TargetID: "alice", Answer: answer, Attempt: 2})
	say(t, h, bob, &protocol.Message{Type: protocol.TypeICECandidate, TargetID: "alice", Candidate: candidate, Attempt: 2})

	got := expect(t, alice, protocol.TypeCallAccepted)
	assert.Equal(t, "bob", got.From)
	assert.Equal(t, string(answer), string(got.Answer))
	assert.Equal(t, 2, got.Attempt)

	got = expect(t, alice, protocol.TypeICECandidate)
	assert.Equal(t, "bob", got.From)
	assert.Equal(t, string(candidate), string(got.Candidate))
	assert.Equal(t, 2, got.Attempt)
}

func TestChatAndTypingRelay(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	chat := &protocol.ChatMessage{ID: "m1", SenderID: "alice", Text: "hi there", Timestamp: 1700000000000}
	say(t, h, alice, &protocol.Message{Type: protocol.TypeTypingStart, TargetID: "bob"})
	say(t, h, alice, &protocol.Message{Type: protocol.TypeSendMessage, TargetID: "bob", Chat: chat})
	say(t, h, alice, &protocol.Message{Type: protocol.TypeTypingStop, TargetID: "bob"})

	assert.Equal(t, "alice", expect(t, bob, protocol.TypeTypingStart).From)
	got := expect(t, bob, protocol.TypeChatMessage)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, chat, got.Chat)
	assert.Equal(t, "alice", expect(t, bob, protocol.TypeTypingStop).From)
}

func TestChatToDisconnectedTargetIsDropped(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	h.Unregister <- bob
	waitUsers(t, alice, "alice")

	say(t, h, alice, &protocol.Message{
		Type:     protocol.TypeSendMessage,
		TargetID: "bob",
		Chat:     &protocol.ChatMessage{ID: "m1", SenderID: "alice", Text: "still there?"},
	})
	barrier(t, h, alice)
}

func TestSkipReleasesAndRematches(t *testing.T) {
	m := metrics.New()
	h := startHub(t, firstCandidate, WithMetrics(m))
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	assert.Equal(t, "bob", expect(t, alice, protocol.TypeRandomUserFound).UserID)
	expect(t, bob, protocol.TypeRandomUserFound)

	say(t, h, alice, &protocol.Message{Type: protocol.TypeNextPartner, CurrentPartnerID: "bob"})

	expect(t, bob, protocol.TypePartnerLeft)
	assert.Equal(t, "carol", expect(t, alice, protocol.TypeRandomUserFound).UserID)
	assert.Equal(t, "alice", expect(t, carol, protocol.TypeRandomUserFound).UserID)
	waitUsers(t, bob, "bob")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventPartnerSkipped)))
}

func TestSkipWithNobodyElse(t *testing.T) {
	h := startHub(t, firstCandidate)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	expect(t, bob, protocol.TypeRandomUserFound)

	say(t, h, alice, &protocol.Message{Type: protocol.TypeNextPartner, CurrentPartnerID: "bob"})
	expect(t, bob, protocol.TypePartnerLeft)
	expect(t, alice, protocol.TypeNoUserAvailable)
	waitUsers(t, bob, "alice", "bob")
}

func TestCallUserBusy(t *testing.T) {
	h := startHub(t, firstCandidate)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	expect(t, bob, protocol.TypeRandomUserFound)

	say(t, h, carol, &protocol.Message{Type: protocol.TypeCallUser, TargetID: "alice", Offer: json.RawMessage(`{}`)})
	assert.Equal(t, "alice", expect(t, carol, protocol.TypeUserBusy).From)

	// alice never saw carol's offer.
	barrier(t, h, alice)
}

func TestUnknownMessageType(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")

	say(t, h, alice, &protocol.Message{Type: "join-room"})
	got := expect(t, alice, protocol.TypeError)
	assert.Contains(t, got.Error, "join-room")
}

func TestDisconnectNotifiesPartner(t *testing.T) {
	h := startHub(t, firstCandidate)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	say(t, h, alice, &protocol.Message{Type: protocol.TypeFindRandomUser})
	expect(t, alice, protocol.TypeRandomUserFound)
	expect(t, bob, protocol.TypeRandomUserFound)

	h.Unregister <- alice

	expect(t, bob, protocol.TypePartnerLeft)
	waitUsers(t, bob, "bob")

	// The hub closed alice's queue; drain whatever was left in it.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-alice.Send:
			return !ok
		default:
			return false
		}
	}, waitTimeout, 10*time.Millisecond)
}

func TestSlowConsumerIsDropped(t *testing.T) {
	m := metrics.New()
	h := startHub(t, WithMetrics(m))

	// Room for the welcome only; the idle-list broadcast overflows it.
	slow := newTestClient(h, "slow", 1)
	h.Register <- slow

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventUserRemoved)) == 1
	}, waitTimeout, 10*time.Millisecond)

	msg, ok := <-slow.Send
	require.True(t, ok)
	assert.Equal(t, protocol.TypeWelcome, msg.Type)
	_, ok = <-slow.Send
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events().WithLabelValues(metrics.EventSlowConsumer)))
}
