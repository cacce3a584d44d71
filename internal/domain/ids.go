// Package domain contains entities without logic, just meta-data.
package domain

type (
	// RoomID is the stable identifier of a persisted room.
	RoomID string
	// UserID is the stable identity carried by the auth credential.
	UserID string
	// PeerID identifies one connected session. It is regenerated on every
	// connect, so a reconnecting user shows up as a new peer.
	PeerID string
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type RoomType string

const (
	// RoomTypeDirect rooms relay offer/answer/candidate between the two
	// parties; media flows peer to peer.
	RoomTypeDirect RoomType = "direct"
	// RoomTypeGroup rooms route media through the SFU.
	RoomTypeGroup RoomType = "group"
)
