package domain

// RoomInfo is the persisted room metadata as the directory stores it.
// The signaling core reads it, never creates it.
type RoomInfo struct {
	ID              RoomID
	HostID          UserID
	IsActive        bool
	MaxParticipants int
	Type            RoomType
}
