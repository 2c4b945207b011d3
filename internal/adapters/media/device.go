package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrDeviceUnavailable = errors.New("capture device unavailable")

const (
	opusFrame = 20 * time.Millisecond
	vp8Frame  = 100 * time.Millisecond
)

var (
	// opusSilence is a single Opus frame that decodes to 20ms of silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// vp8Placeholder is a bare 16x16 VP8 key frame header. It keeps RTP
	// flowing so remote peers see the video track; it does not decode to
	// a picture.
	vp8Placeholder = []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// SyntheticDevice stands in for camera and microphone on headless
// participants. Audio and Video say which kinds can be opened.
type SyntheticDevice struct {
	Audio bool
	Video bool
}

func (d SyntheticDevice) Open(ctx context.Context, c core.Constraints) (core.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", ErrDeviceUnavailable)
	}
	if c.Audio && !d.Audio {
		return nil, fmt.Errorf("%w: audio", ErrDeviceUnavailable)
	}
	if c.Video && !d.Video {
		return nil, fmt.Errorf("%w: video", ErrDeviceUnavailable)
	}

	streamID := "huddle-" + uuid.NewString()
	s := &Stream{}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			s.cancel()
			return nil, fmt.Errorf("audio track: %w", err)
		}
		s.start(NewSampleTrack(t), opusSilence, opusFrame)
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("video track: %w", err)
		}
		s.start(NewSampleTrack(t), vp8Placeholder, vp8Frame)
	}

	log.Info().Str("module", "media").Str("stream", streamID).Bool("audio", c.Audio).Bool("video", c.Video).Msg("stream opened")
	return s, nil
}

type Stream struct {
	tracks []*SampleTrack
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *Stream) Tracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Stop ends every track and waits for the pumps to exit. Safe to call twice.
func (s *Stream) Stop() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.markStopped()
		}
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Stream) start(t *SampleTrack, frame []byte, every time.Duration) {
	s.tracks = append(s.tracks, t)
	s.wg.Add(1)
	go s.pump(t, frame, every)
}

// pump writes frame every interval while t is enabled.
func (s *Stream) pump(t *SampleTrack, frame []byte, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		switch t.State() {
		case TrackStateStopped:
			return
		case TrackStateMuted:
			continue
		}
		if err := t.WriteSample(media.Sample{Data: frame, Duration: every}); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("kind", t.Kind().String()).Msg("sample write failed")
			continue
		}
		t.written.Add(1)
	}
}
