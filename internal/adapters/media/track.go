package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// SampleTrack is a local capture track. Muting keeps the track bound to its
// senders and only stops samples from flowing.
type SampleTrack struct {
	*webrtc.TrackLocalStaticSample
	state   atomic.Int32 // Zero by default (TrackStateOk)
	written atomic.Uint64
}

func NewSampleTrack(track *webrtc.TrackLocalStaticSample) *SampleTrack {
	return &SampleTrack{TrackLocalStaticSample: track}
}

func (t *SampleTrack) State() TrackState {
	return TrackState(t.state.Load())
}

// SetEnabled toggles between ok and muted. A stopped track stays stopped.
func (t *SampleTrack) SetEnabled(on bool) {
	next := TrackStateMuted
	if on {
		next = TrackStateOk
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateStopped {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (t *SampleTrack) Enabled() bool {
	return t.State() == TrackStateOk
}

// Written counts samples handed to the track.
func (t *SampleTrack) Written() uint64 {
	return t.written.Load()
}

func (t *SampleTrack) markStopped() {
	t.state.Store(int32(TrackStateStopped))
}
