package domain

import "github.com/google/uuid"

type RoomID string

type Room struct {
	ID RoomID
}

// NewRoomID mints an opaque room token.
func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}
