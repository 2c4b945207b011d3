package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Role int32

const (
	RoleUndecided Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleUndecided:
		return "undecided"
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	}
	return fmt.Sprintf("Role(%d)", int32(r))
}

// LinkConfig carries what a link needs from its coordinator.
type LinkConfig struct {
	Self    core.SessionID
	Remote  core.SessionID
	Factory core.MediaConnectionFactory
	Relay   Relay
	// OnTrack receives remote tracks of the live connection.
	OnTrack func(ctx context.Context, remote core.SessionID, track core.RemoteTrack)
	// OnTeardown runs once, after the connection is released.
	OnTeardown func(*Link)
}

// Link is the connection lifecycle toward one remote session. Signals are
// processed in arrival order on the link's own goroutine.
type Link struct {
	cfg    LinkConfig
	logger zerolog.Logger

	mu       sync.Mutex
	conn     core.MediaConnection
	role     Role
	state    State
	tracks   map[webrtc.RTPCodecType]core.LocalTrack
	attached map[webrtc.RTPCodecType]core.LocalTrack

	qmu     sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

func NewLink(cfg LinkConfig) *Link {
	l := &Link{
		cfg: cfg,
		logger: log.With().
			Str("module", "mesh.link").
			Str("self", string(cfg.Self)).
			Str("remote", string(cfg.Remote)).
			Logger(),
		tracks:   make(map[webrtc.RTPCodecType]core.LocalTrack),
		attached: make(map[webrtc.RTPCodecType]core.LocalTrack),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Link) Remote() core.SessionID { return l.cfg.Remote }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Role() Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.role
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) enqueue(fn func()) bool {
	l.qmu.Lock()
	if l.stopped {
		l.qmu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.qmu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Link) next() (func(), bool) {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Link) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

// Offer starts negotiation as the offering side. It is a no-op when the link
// already has a connection.
func (l *Link) Offer() {
	l.enqueue(func() {
		l.mu.Lock()
		started := l.conn != nil || l.state == StateClosed
		l.mu.Unlock()
		if started {
			return
		}
		conn, err := l.connect(RoleOfferer)
		if err != nil {
			l.logger.Error().Err(err).Msg("create connection")
			return
		}
		offer, err := conn.CreateOffer()
		if err != nil {
			l.logger.Error().Err(err).Msg("create offer")
			return
		}
		l.send(core.KindOffer, offer)
	})
}

// Handle queues an inbound negotiation envelope from the remote session.
func (l *Link) Handle(msg core.Negotiation) {
	l.enqueue(func() {
		switch msg.Kind {
		case core.KindOffer:
			l.handleOffer(msg.Data)
		case core.KindAnswer:
			l.handleAnswer(msg.Data)
		case core.KindICECandidate:
			l.handleCandidate(msg.Data)
		default:
			l.logger.Warn().Str("kind", msg.Kind.String()).Msg("unexpected negotiation kind")
		}
	})
}

// AttachTracks puts local tracks on the current and every later connection.
// Attaching a track already present for its kind does nothing.
func (l *Link) AttachTracks(tracks []core.LocalTrack) {
	if len(tracks) == 0 {
		return
	}
	l.enqueue(func() {
		l.mu.Lock()
		for _, t := range tracks {
			l.tracks[t.Kind()] = t
		}
		conn := l.conn
		l.mu.Unlock()
		if conn != nil {
			l.attach(conn)
		}
	})
}

func (l *Link) attach(conn core.MediaConnection) {
	l.mu.Lock()
	pending := make([]core.LocalTrack, 0, len(l.tracks))
	for kind, t := range l.tracks {
		if l.attached[kind] != t {
			pending = append(pending, t)
		}
	}
	l.mu.Unlock()

	for _, t := range pending {
		if err := conn.AttachTrack(t); err != nil {
			l.logger.Warn().Err(err).Str("kind", t.Kind().String()).Msg("attach track")
			continue
		}
		l.mu.Lock()
		if l.conn == conn {
			l.attached[t.Kind()] = t
		}
		l.mu.Unlock()
	}
}

// connect creates a connection, makes it current and returns it. Any
// previous connection is released.
func (l *Link) connect(role Role) (core.MediaConnection, error) {
	conn, err := l.cfg.Factory(l.cfg.Remote)
	if err != nil {
		return nil, err
	}
	l.bind(conn)

	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("link to %s closed", l.cfg.Remote)
	}
	old := l.conn
	l.conn = conn
	l.role = role
	l.state = StateNegotiating
	clear(l.attached)
	l.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("close replaced connection")
		}
	}
	l.attach(conn)
	l.logger.Info().Str("role", role.String()).Msg("connection created")
	return conn, nil
}

func (l *Link) owns(conn core.MediaConnection) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn == conn
}

func (l *Link) bind(conn core.MediaConnection) {
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		// Through the queue so candidates never overtake the description.
		l.enqueue(func() {
			if l.owns(conn) {
				l.send(core.KindICECandidate, c)
			}
		})
	})

	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.mu.Lock()
			if l.conn == conn && l.state == StateNegotiating {
				l.state = StateConnected
			}
			l.mu.Unlock()
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			if l.owns(conn) {
				l.logger.Info().Str("peer_connection_state", s.String()).Msg("transport lost")
				l.Close()
			}
		}
	})

	conn.OnTrack(func(ctx context.Context, track core.RemoteTrack) {
		if l.cfg.OnTrack != nil && l.owns(conn) {
			l.cfg.OnTrack(ctx, l.cfg.Remote, track)
		}
	})
}

func (l *Link) handleOffer(data json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		l.logger.Warn().Err(err).Msg("bad offer payload")
		return
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	switch {
	case conn == nil:
		var err error
		if conn, err = l.connect(RoleAnswerer); err != nil {
			l.logger.Error().Err(err).Msg("create connection")
			return
		}
	case conn.HasLocalOffer():
		// Both sides offered. The lower id yields and answers on a fresh
		// connection; the higher id keeps its own offer.
		if l.cfg.Self > l.cfg.Remote {
			l.logger.Info().Msg("offer collision, keeping local offer")
			return
		}
		l.logger.Info().Msg("offer collision, yielding")
		var err error
		if conn, err = l.connect(RoleAnswerer); err != nil {
			l.logger.Error().Err(err).Msg("create connection")
			return
		}
	}

	answer, err := conn.ApplyOffer(offer)
	if err != nil {
		l.logger.Warn().Err(err).Msg("apply offer")
		return
	}
	l.send(core.KindAnswer, answer)
}

func (l *Link) handleAnswer(data json.RawMessage) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		l.logger.Warn().Err(err).Msg("bad answer payload")
		return
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil || !conn.HasLocalOffer() {
		l.logger.Debug().Msg("answer without pending offer dropped")
		return
	}
	if err := conn.ApplyAnswer(answer); err != nil {
		l.logger.Warn().Err(err).Msg("apply answer")
	}
}

func (l *Link) handleCandidate(data json.RawMessage) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &cand); err != nil {
		l.logger.Debug().Err(err).Msg("bad candidate payload dropped")
		return
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		l.logger.Debug().Msg("candidate before connection dropped")
		return
	}
	if err := conn.AddICECandidate(cand); err != nil {
		l.logger.Debug().Err(err).Msg("candidate dropped")
	}
}

func (l *Link) send(kind core.NegotiationKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.Error().Err(err).Str("kind", kind.String()).Msg("encode negotiation")
		return
	}
	err = l.cfg.Relay.Send(core.EventNegotiation, core.Negotiation{
		To:   l.cfg.Remote,
		From: l.cfg.Self,
		Kind: kind,
		Data: data,
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("kind", kind.String()).Msg("send negotiation")
	}
}

// Close is safe in any state and more than once.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.qmu.Lock()
		l.stopped = true
		l.queue = nil
		l.qmu.Unlock()
		close(l.done)

		l.mu.Lock()
		conn := l.conn
		l.conn = nil
		l.state = StateClosed
		l.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				l.logger.Debug().Err(err).Msg("close connection")
			}
		}
		if l.cfg.OnTeardown != nil {
			l.cfg.OnTeardown(l)
		}
		l.logger.Info().Msg("link closed")
	})
}
