package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const markLeftTimeout = 5 * time.Second

// handleDisconnect runs on the router's synthesized disconnect event:
// release the peer's media resources, drop it from the registry, tell the
// room, and tear the room's router down if it emptied out. The persisted
// departure write is best-effort and never reaches a client.
func (ctl *Controller) handleDisconnect(ctx context.Context, c *Context, _ []byte) {
	closed := ctl.Orch.ClosePeer(c.PeerID)

	if c.RoomID == "" {
		return
	}

	// A replaced connection lost its registry slot during the rejoin; the
	// room was already notified then, so only the media cleanup above
	// applies.
	if _, live := ctl.Registry.Peer(c.RoomID, c.PeerID); !live {
		log.Info().Str("module", "signal").Str("peer", string(c.PeerID)).Msg("disconnect of superseded connection")
		return
	}

	remaining := ctl.Registry.RemovePeer(c.RoomID, c.PeerID)
	if len(remaining) > 0 {
		ctl.Registry.BroadcastExcept(c.RoomID, c.PeerID, map[string]any{
			"type":            "peer-left",
			"peerId":          c.PeerID,
			"closedProducers": closed,
		})
	} else {
		ctl.Orch.CloseRoom(c.RoomID)
	}

	log.Info().Str("module", "signal").Str("room", string(c.RoomID)).Str("peer", string(c.PeerID)).Int("producers_closed", len(closed)).Msg("peer disconnected")

	roomID, userID := c.RoomID, c.UserID
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), markLeftTimeout)
		defer cancel()
		if err := ctl.Directory.MarkParticipantLeft(mctx, roomID, userID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("departure sync failed")
		}
	}()
}
