package core

import (
	"github.com/dkeye/Huddle/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID SessionID `json:"sessionId"`
	Username  string    `json:"name"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []SessionID
	MembersSnapshot() []MemberDTO

	// AddMember reports false when sid is already a member.
	AddMember(ms MemberSession) bool
	// RemoveMember reports false when sid was not a member.
	RemoveMember(sid SessionID) bool
	// Broadcast sends to every member except `except`; an empty except
	// reaches everyone.
	Broadcast(except SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
