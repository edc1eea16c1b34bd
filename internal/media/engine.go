// Package media implements the negotiation collaborator on top of pion/webrtc:
// a synthetic local audio stream and one PeerConnection per handshake attempt.
package media

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/transport/v3"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/negotiation"
)

// Options configures an Engine.
type Options struct {
	ICEServers []pion.ICEServer

	// ForceRelay restricts ICE to relay candidates.
	ForceRelay bool

	// Net replaces the OS network stack, e.g. with a vnet in tests.
	Net transport.Net

	Logger *slog.Logger
}

// OptionsFromConfig builds ICE settings from client configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	return Options{
		ICEServers: iceServers,
		ForceRelay: turnServers != nil && (cfg.ForceRelay || ShouldForceRelay()),
	}
}

// Engine creates streams and handshakes. It satisfies negotiation.Media.
type Engine struct {
	api    *pion.API
	config pion.Configuration
	logger *slog.Logger

	muted atomic.Bool

	mu      sync.Mutex
	streams map[*AudioStream]struct{}
}

var _ negotiation.Media = (*Engine)(nil)

// NewEngine prepares the pion API shared by every handshake.
func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	me := &pion.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, negotiation.NewError("register codecs", err)
	}

	se := pion.SettingEngine{LoggerFactory: LoggerFactory{Logger: logger}}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	policy := pion.ICETransportPolicyAll
	if opts.ForceRelay {
		policy = pion.ICETransportPolicyRelay
	}

	return &Engine{
		api: pion.NewAPI(pion.WithMediaEngine(me), pion.WithSettingEngine(se)),
		config: pion.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: policy,
		},
		logger:  logger,
		streams: make(map[*AudioStream]struct{}),
	}, nil
}

// Acquire starts a local audio stream.
func (e *Engine) Acquire() (negotiation.Stream, error) {
	s, err := newAudioStream(e)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.streams[s] = struct{}{}
	e.mu.Unlock()
	return s, nil
}

// NewHandshake opens a PeerConnection carrying stream.
func (e *Engine) NewHandshake(stream negotiation.Stream, events negotiation.HandshakeEvents) (negotiation.Handshake, error) {
	return newPeerHandshake(e, stream, events)
}

// SetMuted toggles the outbound audio of every live stream.
func (e *Engine) SetMuted(muted bool) {
	e.muted.Store(muted)
}

// Muted reports the current mute setting.
func (e *Engine) Muted() bool {
	return e.muted.Load()
}

// Close stops every stream still running.
func (e *Engine) Close() error {
	e.mu.Lock()
	streams := make([]*AudioStream, 0, len(e.streams))
	for s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}

func (e *Engine) forget(s *AudioStream) {
	e.mu.Lock()
	delete(e.streams, s)
	e.mu.Unlock()
}
