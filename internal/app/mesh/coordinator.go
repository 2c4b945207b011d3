// Package mesh drives one connection lifecycle per remote room member from
// the events the signaling relay delivers.
package mesh

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Relay is the participant's signaling channel.
type Relay interface {
	Send(event core.EventName, v any) error
	Close() error
}

// Renderer presents remote media. Detach releases everything it holds for
// a remote session.
type Renderer interface {
	Attach(ctx context.Context, remote core.SessionID, track core.RemoteTrack)
	Detach(remote core.SessionID)
}

// Presence receives user-facing room activity.
type Presence interface {
	PeerJoined(p core.Presence)
	PeerLeft(p core.Presence)
	Chat(c core.Chat)
}

type Options struct {
	Room     domain.RoomID
	Name     string
	Relay    Relay
	Factory  core.MediaConnectionFactory
	Media    *LocalMedia
	Renderer Renderer
	Presence Presence
}

type Coordinator struct {
	opts Options
	ctx  context.Context

	mu    sync.Mutex
	self  core.SessionID
	name  string
	links map[core.SessionID]*Link
	left  bool

	mediaOnce sync.Once
	leaveOnce sync.Once
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		opts:  opts,
		ctx:   context.Background(),
		name:  domain.NormalizeUsername(opts.Name),
		links: make(map[core.SessionID]*Link),
	}
}

// Run joins the room and handles relay events until events closes or ctx
// ends. It does not call Leave.
func (c *Coordinator) Run(ctx context.Context, events <-chan core.Envelope) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.opts.Relay.Send(core.EventJoin, core.JoinRequest{Room: c.opts.Room, Name: c.opts.Name}); err != nil {
		return err
	}
	c.startMedia()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				log.Info().Str("module", "mesh").Msg("relay closed")
				return nil
			}
			c.HandleEvent(env)
		}
	}
}

func (c *Coordinator) Self() core.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Coordinator) HandleEvent(env core.Envelope) {
	if c.hasLeft() {
		return
	}
	logger := log.With().Str("module", "mesh").Str("event", string(env.Event)).Logger()

	switch env.Event {
	case core.EventSession:
		var info core.SessionInfo
		if err := core.DecodeData(env, &info); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		c.mu.Lock()
		c.self = info.SessionID
		c.mu.Unlock()
		logger.Info().Str("sid", string(info.SessionID)).Msg("session assigned")

	case core.EventExistingMembers:
		var ids []core.SessionID
		if err := core.DecodeData(env, &ids); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		self := c.Self()
		if self == "" {
			logger.Warn().Msg("no session id yet, snapshot ignored")
			return
		}
		for _, id := range ids {
			if id == "" || id == self {
				continue
			}
			if l, created := c.Ensure(id); created {
				l.Offer()
			}
		}
		c.startMedia()

	case core.EventPeerJoined:
		var p core.Presence
		if err := core.DecodeData(env, &p); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		if p.SessionID == "" || p.SessionID == c.Self() {
			return
		}
		c.Ensure(p.SessionID)
		if c.opts.Presence != nil {
			c.opts.Presence.PeerJoined(p)
		}

	case core.EventPeerLeft:
		var p core.Presence
		if err := core.DecodeData(env, &p); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		c.drop(p.SessionID)
		if c.opts.Presence != nil {
			c.opts.Presence.PeerLeft(p)
		}

	case core.EventNegotiation:
		var msg core.Negotiation
		if err := core.DecodeData(env, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		self := c.Self()
		if self == "" {
			logger.Warn().Str("from", string(msg.From)).Msg("no session id yet, negotiation ignored")
			return
		}
		if msg.To != self || msg.From == "" || msg.From == self {
			logger.Debug().Str("to", string(msg.To)).Str("from", string(msg.From)).Msg("not for us")
			return
		}
		if l, _ := c.Ensure(msg.From); l != nil {
			l.Handle(msg)
		}

	case core.EventChat:
		var m core.Chat
		if err := core.DecodeData(env, &m); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		if m.From == c.Self() {
			return
		}
		if c.opts.Presence != nil {
			c.opts.Presence.Chat(m)
		}

	case core.EventPong:
	default:
		logger.Debug().Msg("ignored event")
	}
}

// Ensure returns the live link to remote, creating it when there is none.
// created reports whether this call made it. A closed link still in the map
// counts as absent.
func (c *Coordinator) Ensure(remote core.SessionID) (l *Link, created bool) {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil, false
	}
	if cur, ok := c.links[remote]; ok && cur.State() != StateClosed {
		c.mu.Unlock()
		return cur, false
	}
	l = NewLink(LinkConfig{
		Self:       c.self,
		Remote:     remote,
		Factory:    c.opts.Factory,
		Relay:      c.opts.Relay,
		OnTrack:    c.onTrack,
		OnTeardown: c.teardown,
	})
	c.links[remote] = l
	c.mu.Unlock()

	if c.opts.Media != nil {
		l.AttachTracks(c.opts.Media.Tracks())
	}
	return l, true
}

func (c *Coordinator) onTrack(ctx context.Context, remote core.SessionID, track core.RemoteTrack) {
	if c.opts.Renderer != nil {
		c.opts.Renderer.Attach(ctx, remote, track)
	}
}

// teardown releases what l tracked. A link already replaced by Ensure
// leaves the map entry and the remote's media to its successor.
func (c *Coordinator) teardown(l *Link) {
	remote := l.Remote()
	c.mu.Lock()
	cur, ok := c.links[remote]
	current := !ok || cur == l
	if ok && cur == l {
		delete(c.links, remote)
	}
	c.mu.Unlock()

	if !current {
		log.Debug().Str("module", "mesh").Str("remote", string(remote)).Msg("stale link torn down")
		return
	}
	if c.opts.Renderer != nil {
		c.opts.Renderer.Detach(remote)
	}
}

func (c *Coordinator) drop(remote core.SessionID) {
	c.mu.Lock()
	l, ok := c.links[remote]
	c.mu.Unlock()
	if ok {
		l.Close()
	}
}

func (c *Coordinator) startMedia() {
	if c.opts.Media == nil {
		return
	}
	c.mediaOnce.Do(func() {
		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		go c.shareMedia(ctx)
	})
}

func (c *Coordinator) shareMedia(ctx context.Context) {
	if _, err := c.opts.Media.Acquire(ctx); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("local media unavailable")
		return
	}
	tracks := c.opts.Media.Tracks()
	if len(tracks) == 0 {
		return
	}
	for _, l := range c.Links() {
		l.AttachTracks(tracks)
	}
}

// Links is a snapshot of the tracked links by remote session.
func (c *Coordinator) Links() map[core.SessionID]*Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[core.SessionID]*Link, len(c.links))
	for sid, l := range c.links {
		out[sid] = l
	}
	return out
}

// SendChat posts text to the room and shows it locally, since the relay's
// echo is ignored.
func (c *Coordinator) SendChat(text string) bool {
	if text == "" || c.hasLeft() {
		return false
	}
	if err := c.opts.Relay.Send(core.EventChat, core.Chat{Room: c.opts.Room, Text: text}); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("send chat")
		return false
	}
	if c.opts.Presence != nil {
		c.mu.Lock()
		m := core.Chat{Room: c.opts.Room, From: c.self, Name: c.name, Text: text}
		c.mu.Unlock()
		c.opts.Presence.Chat(m)
	}
	return true
}

// SetMuted mutes or unmutes local tracks of kind without renegotiating.
func (c *Coordinator) SetMuted(kind webrtc.RTPCodecType, muted bool) int {
	if c.opts.Media == nil {
		return 0
	}
	return c.opts.Media.SetEnabled(kind, !muted)
}

func (c *Coordinator) hasLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

// Leave closes every link, releases local media and closes the relay.
func (c *Coordinator) Leave() {
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		c.left = true
		links := make([]*Link, 0, len(c.links))
		for _, l := range c.links {
			links = append(links, l)
		}
		c.mu.Unlock()

		for _, l := range links {
			l.Close()
		}
		if c.opts.Media != nil {
			c.opts.Media.Release()
		}
		if err := c.opts.Relay.Close(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Msg("close relay")
		}
		log.Info().Str("module", "mesh").Int("links", len(links)).Msg("left room")
	})
}
