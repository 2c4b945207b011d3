package mesh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
)

type fakeConn struct {
	remote core.SessionID

	mu           sync.Mutex
	localOffer   bool
	offers       int
	remoteOffers int
	answers      int
	candidates   int
	attached     map[webrtc.RTPCodecType]webrtc.TrackLocal
	closed       int
	candErr      error
	onICE        func(webrtc.ICECandidateInit)
	onState      func(webrtc.PeerConnectionState)
	onTrack      func(context.Context, core.RemoteTrack)
}

func (f *fakeConn) CreateOffer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	f.localOffer = true
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeConn) ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteOffers++
	f.localOffer = false
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.localOffer {
		return errors.New("no local offer")
	}
	f.localOffer = false
	f.answers++
	return nil
}

func (f *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates++
	return f.candErr
}

func (f *fakeConn) AttachTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[t.Kind()] = t
	return nil
}

func (f *fakeConn) HasLocalOffer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localOffer
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeConn) OnTrack(fn func(context.Context, core.RemoteTrack)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

// Close reports the closed state like a real peer connection does.
func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (f *fakeConn) emitState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeConn) emitICE(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	fn(c)
}

func (f *fakeConn) emitTrack(t core.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(context.Background(), t)
}

func (f *fakeConn) stats() (offers, remoteOffers, answers, candidates, closed, attached int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers, f.remoteOffers, f.answers, f.candidates, f.closed, len(f.attached)
}

type fakeFactory struct {
	mu      sync.Mutex
	conns   map[core.SessionID][]*fakeConn
	candErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[core.SessionID][]*fakeConn)}
}

func (ff *fakeFactory) New(remote core.SessionID) (core.MediaConnection, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := &fakeConn{
		remote:   remote,
		attached: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		candErr:  ff.candErr,
	}
	ff.conns[remote] = append(ff.conns[remote], c)
	return c, nil
}

func (ff *fakeFactory) count(remote core.SessionID) int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.conns[remote])
}

func (ff *fakeFactory) latest(remote core.SessionID) *fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	cs := ff.conns[remote]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (ff *fakeFactory) waitConn(t *testing.T, remote core.SessionID, n int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return ff.count(remote) >= n }, time.Second, 2*time.Millisecond)
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.conns[remote][n-1]
}

type sent struct {
	event core.EventName
	v     any
}

type fakeRelay struct {
	mu     sync.Mutex
	sent   []sent
	closed int
}

func (r *fakeRelay) Send(event core.EventName, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed > 0 {
		return errors.New("relay closed")
	}
	r.sent = append(r.sent, sent{event: event, v: v})
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeRelay) negotiations(to core.SessionID) []core.Negotiation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Negotiation
	for _, s := range r.sent {
		if n, ok := s.v.(core.Negotiation); ok && n.To == to {
			out = append(out, n)
		}
	}
	return out
}

func (r *fakeRelay) kinds(to core.SessionID) []core.NegotiationKind {
	var out []core.NegotiationKind
	for _, n := range r.negotiations(to) {
		out = append(out, n.Kind)
	}
	return out
}

func (r *fakeRelay) events() []core.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventName, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.event)
	}
	return out
}

type fakeRenderer struct {
	mu       sync.Mutex
	attached map[core.SessionID]int
	detached []core.SessionID
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{attached: make(map[core.SessionID]int)}
}

func (r *fakeRenderer) Attach(_ context.Context, remote core.SessionID, _ core.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[remote]++
}

func (r *fakeRenderer) Detach(remote core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, remote)
}

func (r *fakeRenderer) detachedOf(remote core.SessionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.detached {
		if d == remote {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu     sync.Mutex
	joined []core.Presence
	left   []core.Presence
	chats  []core.Chat
}

func (p *fakePresence) PeerJoined(x core.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, x)
}

func (p *fakePresence) PeerLeft(x core.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, x)
}

func (p *fakePresence) Chat(c core.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, c)
}

func (p *fakePresence) snapshot() (joined, left []core.Presence, chats []core.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Presence(nil), p.joined...),
		append([]core.Presence(nil), p.left...),
		append([]core.Chat(nil), p.chats...)
}

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newFakeTrack(t *testing.T, kind webrtc.RTPCodecType) *fakeTrack {
	t.Helper()
	c := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		c = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	s, err := webrtc.NewTrackLocalStaticSample(c, kind.String(), "fake")
	require.NoError(t, err)
	ft := &fakeTrack{TrackLocalStaticSample: s}
	ft.enabled.Store(true)
	return ft
}

func (f *fakeTrack) SetEnabled(on bool) { f.enabled.Store(on) }
func (f *fakeTrack) Enabled() bool      { return f.enabled.Load() }

type fakeStream struct {
	tracks  []core.LocalTrack
	stopped atomic.Int32
}

func (s *fakeStream) Tracks() []core.LocalTrack { return s.tracks }
func (s *fakeStream) Stop()                     { s.stopped.Add(1) }

// fakeDevice opens fake streams. Kinds listed in broken fail; gate, when set,
// holds Open until it is closed.
type fakeDevice struct {
	t      *testing.T
	gate   chan struct{}
	broken map[webrtc.RTPCodecType]bool

	mu      sync.Mutex
	opens   []core.Constraints
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context, c core.Constraints) (core.MediaStream, error) {
	d.mu.Lock()
	d.opens = append(d.opens, c)
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if (c.Audio && d.broken[webrtc.RTPCodecTypeAudio]) || (c.Video && d.broken[webrtc.RTPCodecTypeVideo]) {
		return nil, errors.New("device busy")
	}

	s := &fakeStream{}
	if c.Audio {
		s.tracks = append(s.tracks, newFakeTrack(d.t, webrtc.RTPCodecTypeAudio))
	}
	if c.Video {
		s.tracks = append(s.tracks, newFakeTrack(d.t, webrtc.RTPCodecTypeVideo))
	}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

// flush waits until everything queued on l before this call has run.
func flush(t *testing.T, l *Link) {
	t.Helper()
	done := make(chan struct{})
	if !l.enqueue(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("link queue stalled")
	}
}

func envOf(t *testing.T, event core.EventName, v any) core.Envelope {
	t.Helper()
	f, err := core.Encode(event, v)
	require.NoError(t, err)
	env, err := core.Decode(f)
	require.NoError(t, err)
	return env
}
