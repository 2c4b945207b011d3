package orch

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinRoom admits sid and runs the presence fan-out. The joiner's snapshot
// is queued before any other member hears about the join.
func (o *Orchestrator) JoinRoom(sid core.SessionID, roomID domain.RoomID, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	res, ok := o.join(sid, roomID, name)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("join ignored")
		return false
	}

	snapshot, err := core.Encode(core.EventExistingMembers, res.Members)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode existing-members")
		return false
	}
	o.sendTo(sid, snapshot)
	if !res.Joined {
		return true
	}

	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return true
	}
	joined, err := core.Encode(core.EventPeerJoined, core.Presence{SessionID: sid, Name: sess.Meta().User.Username})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode peer-joined")
		return true
	}
	o.fanOut(res.Room, sid, joined)
	return true
}

// RelayNegotiation forwards frame, unchanged, to msg.To. Unknown or empty
// targets are dropped without telling the sender.
func (o *Orchestrator) RelayNegotiation(from core.SessionID, msg core.Negotiation, frame core.Frame) bool {
	if msg.To == "" {
		return false
	}
	if !o.sendTo(msg.To, frame) {
		log.Debug().Str("module", "orch").Str("from", string(from)).Str("to", string(msg.To)).Str("kind", msg.Kind.String()).Msg("negotiation dropped")
		return false
	}
	return true
}

// RelayChat broadcasts text to every member of roomID, the sender included.
func (o *Orchestrator) RelayChat(from core.SessionID, roomID domain.RoomID, text string) bool {
	if roomID == "" || text == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return false
	}
	name := domain.DefaultUsername
	if sess, ok := o.Registry.GetSession(from); ok {
		name = sess.Meta().User.Username
	}
	f, err := core.Encode(core.EventChat, core.Chat{Room: roomID, From: from, Name: name, Text: text})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode chat")
		return false
	}
	o.fanOut(room, "", f)
	return true
}

// OnDisconnect evicts sid and notifies its room. Repeated calls are no-ops.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	roomID, left := o.leave(sid)
	if _, _, ok := o.Registry.Unbind(sid); !ok {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Bool("was_member", left).Msg("session disconnected")
}

// SessionInfo describes sid for the session/whoami event.
func (o *Orchestrator) SessionInfo(sid core.SessionID) (core.SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return core.SessionInfo{}, false
	}
	info := core.SessionInfo{SessionID: sid, Name: sess.Meta().User.Username}
	if roomID, _, ok := o.Registry.RoomOf(sid); ok {
		info.Room = roomID
	}
	return info, true
}
