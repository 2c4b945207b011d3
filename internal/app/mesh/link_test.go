package mesh

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
)

type linkHarness struct {
	link      *Link
	factory   *fakeFactory
	relay     *fakeRelay
	teardowns atomic.Int32
}

func newLinkHarness(t *testing.T, self, remote core.SessionID) *linkHarness {
	t.Helper()
	h := &linkHarness{factory: newFakeFactory(), relay: &fakeRelay{}}
	h.link = NewLink(LinkConfig{
		Self:       self,
		Remote:     remote,
		Factory:    h.factory.New,
		Relay:      h.relay,
		OnTeardown: func(*Link) { h.teardowns.Add(1) },
	})
	t.Cleanup(h.link.Close)
	return h
}

func negotiation(t *testing.T, from, to core.SessionID, kind core.NegotiationKind, payload any) core.Negotiation {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return core.Negotiation{To: to, From: from, Kind: kind, Data: data}
}

var (
	remoteOffer  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
	remoteAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
)

func TestLink_OffererFlow(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	assert.Equal(t, StateIdle, h.link.State())

	h.link.Offer()
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)

	assert.Equal(t, StateNegotiating, h.link.State())
	assert.Equal(t, RoleOfferer, h.link.Role())
	sentMsgs := h.relay.negotiations("b")
	require.Len(t, sentMsgs, 1)
	assert.Equal(t, core.KindOffer, sentMsgs[0].Kind)
	assert.Equal(t, core.SessionID("a"), sentMsgs[0].From)

	h.link.Handle(negotiation(t, "b", "a", core.KindAnswer, remoteAnswer))
	flush(t, h.link)
	_, _, answers, _, _, _ := conn.stats()
	assert.Equal(t, 1, answers)

	conn.emitState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, StateConnected, h.link.State())

	h.link.Offer()
	flush(t, h.link)
	assert.Equal(t, 1, h.factory.count("b"), "second Offer must not renegotiate")
}

func TestLink_AnswererFlow(t *testing.T) {
	h := newLinkHarness(t, "a", "b")

	h.link.Handle(negotiation(t, "b", "a", core.KindOffer, remoteOffer))
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)

	assert.Equal(t, RoleAnswerer, h.link.Role())
	assert.Equal(t, StateNegotiating, h.link.State())
	_, remoteOffers, _, _, _, _ := conn.stats()
	assert.Equal(t, 1, remoteOffers)
	assert.Equal(t, []core.NegotiationKind{core.KindAnswer}, h.relay.kinds("b"))

	// Renegotiation on a stable connection is answered on the same connection.
	h.link.Handle(negotiation(t, "b", "a", core.KindOffer, remoteOffer))
	flush(t, h.link)
	assert.Equal(t, 1, h.factory.count("b"))
	assert.Equal(t, []core.NegotiationKind{core.KindAnswer, core.KindAnswer}, h.relay.kinds("b"))
}

func TestLink_LocalCandidatesFollowTheOffer(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.link.Offer()
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)

	conn.emitICE(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"})
	flush(t, h.link)
	assert.Equal(t, []core.NegotiationKind{core.KindOffer, core.KindICECandidate}, h.relay.kinds("b"))
}

func TestLink_CandidateFailureIsNotFatal(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.factory.candErr = errors.New("remote description not set")

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}
	// No connection yet: dropped.
	h.link.Handle(negotiation(t, "b", "a", core.KindICECandidate, cand))
	flush(t, h.link)
	assert.Zero(t, h.factory.count("b"))

	h.link.Offer()
	conn := h.factory.waitConn(t, "b", 1)
	h.link.Handle(negotiation(t, "b", "a", core.KindICECandidate, cand))
	h.link.Handle(core.Negotiation{To: "a", From: "b", Kind: core.KindICECandidate, Data: json.RawMessage(`"garbage"`)})
	h.link.Handle(negotiation(t, "b", "a", core.KindAnswer, remoteAnswer))
	flush(t, h.link)

	_, _, answers, candidates, closed, _ := conn.stats()
	assert.Equal(t, 1, candidates)
	assert.Equal(t, 1, answers)
	assert.Zero(t, closed)
	assert.Equal(t, StateNegotiating, h.link.State())
}

func TestLink_StrayAnswerDropped(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.link.Handle(negotiation(t, "b", "a", core.KindAnswer, remoteAnswer))
	flush(t, h.link)
	assert.Zero(t, h.factory.count("b"))
	assert.Equal(t, StateIdle, h.link.State())
}

func TestLink_GlarePoliteSideYields(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.link.Offer()
	first := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)

	h.link.Handle(negotiation(t, "b", "a", core.KindOffer, remoteOffer))
	second := h.factory.waitConn(t, "b", 2)
	flush(t, h.link)

	_, _, _, _, closed, _ := first.stats()
	assert.Equal(t, 1, closed)
	_, remoteOffers, _, _, _, _ := second.stats()
	assert.Equal(t, 1, remoteOffers)
	assert.Equal(t, RoleAnswerer, h.link.Role())
	assert.Equal(t, StateNegotiating, h.link.State(), "replacing the connection must not close the link")
	assert.Zero(t, h.teardowns.Load())
	assert.Equal(t, []core.NegotiationKind{core.KindOffer, core.KindAnswer}, h.relay.kinds("b"))
}

func TestLink_GlareImpoliteSideKeepsOffer(t *testing.T) {
	h := newLinkHarness(t, "b", "a")
	h.link.Offer()
	conn := h.factory.waitConn(t, "a", 1)
	flush(t, h.link)

	h.link.Handle(negotiation(t, "a", "b", core.KindOffer, remoteOffer))
	flush(t, h.link)

	assert.Equal(t, 1, h.factory.count("a"))
	_, remoteOffers, _, _, _, _ := conn.stats()
	assert.Zero(t, remoteOffers)
	assert.True(t, conn.HasLocalOffer())
	assert.Equal(t, RoleOfferer, h.link.Role())
	assert.Equal(t, []core.NegotiationKind{core.KindOffer}, h.relay.kinds("a"))
}

func TestLink_CloseTwiceMidNegotiation(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.link.Offer()
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)

	h.link.Close()
	h.link.Close()

	_, _, _, _, closed, _ := conn.stats()
	assert.Equal(t, 1, closed)
	assert.Equal(t, int32(1), h.teardowns.Load())
	assert.Equal(t, StateClosed, h.link.State())
	<-h.link.Done()

	// Nothing runs after close.
	h.link.Handle(negotiation(t, "b", "a", core.KindOffer, remoteOffer))
	h.link.Offer()
	assert.Equal(t, 1, h.factory.count("b"))
}

func TestLink_CloseFromIdle(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	h.link.Close()
	assert.Equal(t, StateClosed, h.link.State())
	assert.Equal(t, int32(1), h.teardowns.Load())
	assert.Zero(t, h.factory.count("b"))
}

func TestLink_TransportFailureCloses(t *testing.T) {
	for _, s := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
	} {
		t.Run(s.String(), func(t *testing.T) {
			h := newLinkHarness(t, "a", "b")
			h.link.Offer()
			conn := h.factory.waitConn(t, "b", 1)
			flush(t, h.link)

			conn.emitState(s)
			assert.Equal(t, StateClosed, h.link.State())
			assert.Equal(t, int32(1), h.teardowns.Load())
			_, _, _, _, closed, _ := conn.stats()
			assert.Equal(t, 1, closed)
		})
	}
}

func TestLink_TracksAttachedLateAndOncePerKind(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	audio := newFakeTrack(t, webrtc.RTPCodecTypeAudio)
	video := newFakeTrack(t, webrtc.RTPCodecTypeVideo)

	h.link.Offer()
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)
	_, _, _, _, _, attached := conn.stats()
	assert.Zero(t, attached)

	h.link.AttachTracks([]core.LocalTrack{audio, video})
	h.link.AttachTracks([]core.LocalTrack{audio})
	flush(t, h.link)

	conn.mu.Lock()
	assert.Len(t, conn.attached, 2)
	assert.Equal(t, webrtc.TrackLocal(audio), conn.attached[webrtc.RTPCodecTypeAudio])
	conn.mu.Unlock()
	assert.Equal(t, 1, h.factory.count("b"), "late tracks must not renegotiate")
}

func TestLink_TracksCarriedToNewConnection(t *testing.T) {
	h := newLinkHarness(t, "a", "b")
	audio := newFakeTrack(t, webrtc.RTPCodecTypeAudio)
	h.link.AttachTracks([]core.LocalTrack{audio})

	h.link.Handle(negotiation(t, "b", "a", core.KindOffer, remoteOffer))
	conn := h.factory.waitConn(t, "b", 1)
	flush(t, h.link)
	_, _, _, _, _, attached := conn.stats()
	assert.Equal(t, 1, attached)
}
