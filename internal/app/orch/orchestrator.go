package orch

import (
	"sync"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy

	// mu serializes membership mutations together with the presence
	// fan-out they trigger, so every member of a room observes joins and
	// leaves in the order they were applied.
	mu sync.Mutex
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// fanOut broadcasts within a room and applies the back-pressure policy to
// members that could not take the frame.
func (o *Orchestrator) fanOut(room core.RoomService, except core.SessionID, f core.Frame) {
	res := room.Broadcast(except, f)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(room.Room().ID)).Msg("kicking slow member")
			// Closing the transport ends its read pump, which runs the
			// regular disconnect path.
			slow.Signal().Close()
		case app.NoAction:
		}
	}
}

// sendTo delivers a frame to one session; a miss is silently dropped.
func (o *Orchestrator) sendTo(sid core.SessionID, f core.Frame) bool {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	if err := sess.Signal().TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send dropped")
		return false
	}
	return true
}
