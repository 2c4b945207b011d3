package orch

import (
	"errors"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinResult is the membership snapshot handed to a joining session.
type JoinResult struct {
	Room    core.RoomService
	Members []core.SessionID
	// Joined is false for an idempotent re-join.
	Joined bool
}

// Connect registers a freshly accepted session. It belongs to no room yet.
func (o *Orchestrator) Connect(sess core.MemberSession) {
	o.Registry.Bind(sess)
}

// Join admits sid into room. An empty room id is ignored.
func (o *Orchestrator) Join(sid core.SessionID, room domain.RoomID, name string) (JoinResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.join(sid, room, name)
}

func (o *Orchestrator) join(sid core.SessionID, roomID domain.RoomID, name string) (JoinResult, bool) {
	if roomID == "" {
		return JoinResult{}, false
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return JoinResult{}, false
	}
	if name != "" {
		rename(sess.Meta().User, name)
	}

	if current, _, ok := o.Registry.RoomOf(sid); ok {
		if current == roomID {
			room := o.Rooms.GetOrCreate(roomID)
			return JoinResult{Room: room, Members: others(room, sid)}, true
		}
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("switching rooms")
		o.leave(sid)
	}

	room := o.Rooms.GetOrCreate(roomID)
	members := others(room, sid)
	room.AddMember(sess)
	o.Registry.UpdateRoom(sid, roomID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")
	return JoinResult{Room: room, Members: members, Joined: true}, true
}

// Leave removes sid from its room, if any.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.RoomID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leave(sid)
}

// leave drops membership and tells the remaining members. Callers hold mu.
func (o *Orchestrator) leave(sid core.SessionID) (domain.RoomID, bool) {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", false
	}
	o.Registry.RemoveRoom(sid)
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return roomID, true
	}
	room.RemoveMember(sid)
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room emptied")
		return roomID, true
	}
	f, err := core.Encode(core.EventPeerLeft, core.Presence{SessionID: sid, Name: sess.Meta().User.Username})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode peer-left")
		return roomID, true
	}
	o.fanOut(room, sid, f)
	return roomID, true
}

func (o *Orchestrator) Members(roomID domain.RoomID) []core.SessionID {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return room.Members()
}

// RoomMembers lists who is in roomID with their display names.
func (o *Orchestrator) RoomMembers(roomID domain.RoomID) ([]core.MemberDTO, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}

// rename applies a join-time display name. Blank names keep the current one;
// overlong names are truncated.
func rename(u *domain.User, name string) {
	err := u.SetUsername(name)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUsernameTooLong):
		u.Username = domain.NormalizeUsername(name)
	default:
		log.Debug().Err(err).Str("module", "orch").Str("user", string(u.ID)).Msg("join name ignored")
	}
}

func others(room core.RoomService, sid core.SessionID) []core.SessionID {
	all := room.Members()
	out := make([]core.SessionID, 0, len(all))
	for _, m := range all {
		if m != sid {
			out = append(out, m)
		}
	}
	return out
}
