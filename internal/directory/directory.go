// Package directory reads the persisted room/participant store. Rooms and
// participant records are created by a separate CRUD surface; the signaling
// core only reads them and marks departures.
package directory

import (
	"context"
	"errors"

	"github.com/mlevan/huddle/internal/domain"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotParticipant = errors.New("not a participant")
)

type Directory interface {
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomInfo, error)
	GetParticipantRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Role, error)
	// MarkParticipantLeft is best-effort; callers log failures and move on.
	MarkParticipantLeft(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
}
