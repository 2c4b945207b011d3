package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SinkStats counts what one remote session has delivered so far.
type SinkStats struct {
	Tracks  int
	Packets uint64
	Bytes   uint64
}

type sink struct {
	track   core.RemoteTrack
	cancel  context.CancelFunc
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// SinkManager drains remote tracks, one read loop per track, grouped by the
// remote session they came from.
type SinkManager struct {
	mu    sync.RWMutex
	sinks map[core.SessionID]map[string]*sink
}

func NewSinkManager() *SinkManager {
	return &SinkManager{
		sinks: make(map[core.SessionID]map[string]*sink),
	}
}

// Attach starts draining track. A track with the same id from the same remote
// replaces the previous one.
func (m *SinkManager) Attach(ctx context.Context, remote core.SessionID, track core.RemoteTrack) {
	logger := log.With().
		Str("module", "media.sink").
		Str("sid", string(remote)).
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	s := &sink{track: track, cancel: cancel}

	m.mu.Lock()
	byID, ok := m.sinks[remote]
	if !ok {
		byID = make(map[string]*sink)
		m.sinks[remote] = byID
	}
	if old, ok := byID[track.ID()]; ok {
		logger.Info().Msg("replacing existing sink")
		old.cancel()
	}
	byID[track.ID()] = s
	m.mu.Unlock()

	logger.Info().Msg("sink attached")
	go m.loop(sinkCtx, remote, s, &logger)
}

func (m *SinkManager) loop(ctx context.Context, remote core.SessionID, s *sink, logger *zerolog.Logger) {
	defer m.remove(remote, s)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("sink read RTP stopped")
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (m *SinkManager) remove(remote core.SessionID, s *sink) {
	s.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.sinks[remote]
	if !ok {
		return
	}
	if cur, ok := byID[s.track.ID()]; ok && cur == s {
		delete(byID, s.track.ID())
	}
	if len(byID) == 0 {
		delete(m.sinks, remote)
	}
}

// Detach stops every sink fed by remote.
func (m *SinkManager) Detach(remote core.SessionID) {
	m.mu.Lock()
	byID := m.sinks[remote]
	delete(m.sinks, remote)
	m.mu.Unlock()
	for _, s := range byID {
		s.cancel()
	}
	if len(byID) > 0 {
		log.Info().Str("module", "media.sink").Str("sid", string(remote)).Int("tracks", len(byID)).Msg("sinks detached")
	}
}

func (m *SinkManager) Stats(remote core.SessionID) (SinkStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.sinks[remote]
	if !ok {
		return SinkStats{}, false
	}
	st := SinkStats{Tracks: len(byID)}
	for _, s := range byID {
		st.Packets += s.packets.Load()
		st.Bytes += s.bytes.Load()
	}
	return st, true
}

func (m *SinkManager) Remotes() []core.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.SessionID, 0, len(m.sinks))
	for sid := range m.sinks {
		out = append(out, sid)
	}
	return out
}
