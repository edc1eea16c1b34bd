package media

import (
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/BioHazard786/shuffle/internal/negotiation"
)

const (
	frameDuration   = 20 * time.Millisecond
	mutedFrameEvery = 50
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// AudioStream is the local audio track. Without capture hardware it sends
// Opus silence, which is enough for ICE and DTLS to complete.
type AudioStream struct {
	engine *Engine
	track  *pion.TrackLocalStaticSample

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newAudioStream(e *Engine) (*AudioStream, error) {
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"shuffle-"+uuid.NewString(),
	)
	if err != nil {
		return nil, negotiation.WrapError("create audio track", negotiation.ErrMediaAccess, err.Error())
	}

	s := &AudioStream{
		engine: e,
		track:  track,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *AudioStream) run() {
	defer close(s.done)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// A muted track still sends a sparse frame so the partner sees
			// it as live.
			if s.engine.Muted() && n%mutedFrameEvery != 0 {
				continue
			}
			// Fails harmlessly while no PeerConnection is bound.
			_ = s.track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}

// Track returns the pion track to attach to a PeerConnection.
func (s *AudioStream) Track() *pion.TrackLocalStaticSample {
	return s.track
}

// Close stops the sample writer. It is safe to call more than once.
func (s *AudioStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.engine.forget(s)
	})
	return nil
}
