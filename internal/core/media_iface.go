package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the read side of an inbound media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaConnection is one direct media link to a remote session, as seen from
// the client side of the mesh.
type MediaConnection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (*webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AttachTrack puts a local track on the transceiver of its kind.
	AttachTrack(webrtc.TrackLocal) error
	// HasLocalOffer reports whether a local offer awaits an answer.
	HasLocalOffer() bool
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// Close should stop all underlying media resources.
	Close() error
}

// MediaConnectionFactory creates the connection for one remote session.
type MediaConnectionFactory func(remote SessionID) (MediaConnection, error)

// Constraints selects which capture kinds a device should open.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalTrack is a capture track that can be muted without renegotiation.
type LocalTrack interface {
	webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
}

type MediaStream interface {
	Tracks() []LocalTrack
	Stop()
}

// MediaDevice opens local capture. It fails when a requested kind is
// unavailable.
type MediaDevice interface {
	Open(ctx context.Context, c Constraints) (MediaStream, error)
}
