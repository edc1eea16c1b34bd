package media

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/shuffle/internal/negotiation"
)

var (
	ErrConnectionFailed  = errors.New("peer connection failed")
	ErrUnexpectedSDP     = errors.New("unexpected session description type")
	ErrUnsupportedRemote = errors.New("unsupported remote payload")
)

// peerHandshake is one PeerConnection. Remote candidates that arrive before
// the remote description are held until it is set. The attempt counts as
// established once the connection is up and the partner's audio is arriving.
type peerHandshake struct {
	pc     *pion.PeerConnection
	events negotiation.HandshakeEvents
	engine *Engine

	closed atomic.Bool

	mu        sync.Mutex
	remoteSet bool
	pending   []pion.ICECandidateInit
	connected bool
	gotTrack  bool
	live      bool
}

var _ negotiation.Handshake = (*peerHandshake)(nil)

func newPeerHandshake(e *Engine, stream negotiation.Stream, events negotiation.HandshakeEvents) (*peerHandshake, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, negotiation.NewError("create peer connection", err)
	}

	if s, ok := stream.(*AudioStream); ok && s != nil {
		if _, err := pc.AddTrack(s.Track()); err != nil {
			pc.Close()
			return nil, negotiation.NewError("add audio track", err)
		}
	}

	h := &peerHandshake{pc: pc, events: events, engine: e}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || h.closed.Load() {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			e.logger.Warn("encode local candidate", "err", err)
			return
		}
		events.Candidate(data)
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		e.logger.Debug("peer connection state", "state", state.String())
		if h.closed.Load() {
			return
		}
		switch state {
		case pion.PeerConnectionStateConnected:
			h.progress(func() { h.connected = true })
		case pion.PeerConnectionStateFailed:
			events.Failed(ErrConnectionFailed)
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		e.logger.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go drain(track)
		h.progress(func() { h.gotTrack = true })
	})

	return h, nil
}

// progress applies set and reports Established the first time both the
// connection and the remote track are up.
func (h *peerHandshake) progress(set func()) {
	h.mu.Lock()
	set()
	fire := h.connected && h.gotTrack && !h.live
	if fire {
		h.live = true
	}
	h.mu.Unlock()

	if fire && !h.closed.Load() {
		h.events.Established()
	}
}

// drain reads the remote track until it ends; nothing plays it back.
func drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (h *peerHandshake) Offer() (json.RawMessage, error) {
	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return nil, negotiation.NewError("create offer", err)
	}
	if err := h.pc.SetLocalDescription(offer); err != nil {
		return nil, negotiation.NewError("set local description", err)
	}
	return json.Marshal(h.pc.LocalDescription())
}

func (h *peerHandshake) Accept(payload json.RawMessage) (json.RawMessage, error) {
	var offer pion.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return nil, negotiation.NewError("parse offer", err)
	}
	if offer.Type != pion.SDPTypeOffer {
		return nil, negotiation.WrapError("accept", ErrUnexpectedSDP, offer.Type.String())
	}
	if err := h.setRemote(offer); err != nil {
		return nil, err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return nil, negotiation.NewError("create answer", err)
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return nil, negotiation.NewError("set local description", err)
	}
	return json.Marshal(h.pc.LocalDescription())
}

func (h *peerHandshake) Remote(kind negotiation.RemoteKind, payload json.RawMessage) error {
	switch kind {
	case negotiation.RemoteAnswer:
		var answer pion.SessionDescription
		if err := json.Unmarshal(payload, &answer); err != nil {
			return negotiation.NewError("parse answer", err)
		}
		if answer.Type != pion.SDPTypeAnswer {
			return negotiation.WrapError("apply answer", ErrUnexpectedSDP, answer.Type.String())
		}
		return h.setRemote(answer)

	case negotiation.RemoteCandidate:
		var candidate pion.ICECandidateInit
		if err := json.Unmarshal(payload, &candidate); err != nil {
			return negotiation.NewError("parse ICE candidate", err)
		}
		h.mu.Lock()
		if !h.remoteSet {
			h.pending = append(h.pending, candidate)
			h.mu.Unlock()
			return nil
		}
		h.mu.Unlock()
		if err := h.pc.AddICECandidate(candidate); err != nil {
			return negotiation.NewError("add ICE candidate", err)
		}
		return nil

	default:
		return negotiation.WrapError("apply remote", ErrUnsupportedRemote, string(kind))
	}
}

// setRemote applies desc and flushes candidates held back until now.
func (h *peerHandshake) setRemote(desc pion.SessionDescription) error {
	if err := h.pc.SetRemoteDescription(desc); err != nil {
		return negotiation.NewError("set remote description", err)
	}

	h.mu.Lock()
	h.remoteSet = true
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, c := range pending {
		if err := h.pc.AddICECandidate(c); err != nil {
			h.engine.logger.Warn("add queued ICE candidate", "err", err)
		}
	}
	return nil
}

func (h *peerHandshake) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.pc.Close()
}
