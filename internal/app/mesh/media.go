package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var ErrMediaReleased = errors.New("local media released")

// LocalMedia owns the one capture stream shared by every link.
type LocalMedia struct {
	device core.MediaDevice
	want   core.Constraints
	group  singleflight.Group

	mu       sync.RWMutex
	stream   core.MediaStream
	acquired bool
	released bool
}

func NewLocalMedia(device core.MediaDevice, want core.Constraints) *LocalMedia {
	return &LocalMedia{device: device, want: want}
}

// Acquire opens the stream once; concurrent callers share the same attempt.
// When no capture works it returns a nil stream and a nil error.
func (m *LocalMedia) Acquire(ctx context.Context) (core.MediaStream, error) {
	m.mu.RLock()
	if m.released {
		m.mu.RUnlock()
		return nil, ErrMediaReleased
	}
	if m.acquired {
		s := m.stream
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do("acquire", func() (any, error) {
		m.mu.RLock()
		if m.acquired {
			s := m.stream
			m.mu.RUnlock()
			return s, nil
		}
		m.mu.RUnlock()

		s, err := m.open(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.released {
			if s != nil {
				s.Stop()
			}
			return nil, ErrMediaReleased
		}
		m.stream = s
		m.acquired = true
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(core.MediaStream)
	return s, nil
}

func (m *LocalMedia) open(ctx context.Context) (core.MediaStream, error) {
	var attempts []core.Constraints
	if m.want.Audio || m.want.Video {
		attempts = append(attempts, m.want)
	}
	if m.want.Audio && m.want.Video {
		attempts = append(attempts, core.Constraints{Video: true})
	}

	for _, c := range attempts {
		s, err := m.device.Open(ctx, c)
		if err == nil {
			log.Info().Str("module", "mesh.media").Bool("audio", c.Audio).Bool("video", c.Video).Msg("local media ready")
			return s, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn().Err(err).Str("module", "mesh.media").Bool("audio", c.Audio).Bool("video", c.Video).Msg("capture failed, degrading")
	}
	log.Warn().Str("module", "mesh.media").Msg("continuing without local media")
	return nil, nil
}

// Tracks never blocks; it is empty until Acquire has finished.
func (m *LocalMedia) Tracks() []core.LocalTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stream == nil {
		return nil
	}
	return m.stream.Tracks()
}

// SetEnabled mutes or unmutes every track of kind and reports how many it
// touched.
func (m *LocalMedia) SetEnabled(kind webrtc.RTPCodecType, on bool) int {
	n := 0
	for _, t := range m.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(on)
			n++
		}
	}
	return n
}

func (m *LocalMedia) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	m.released = true
	m.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}
