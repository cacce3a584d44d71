package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/directory"
	"github.com/mlevan/huddle/internal/domain"
	"github.com/mlevan/huddle/internal/orch"
	"github.com/mlevan/huddle/internal/registry"
)

// Controller holds the handlers behind the message router.
type Controller struct {
	Registry  *registry.Registry
	Directory directory.Directory
	Orch      *orch.Orchestrator
}

func NewController(reg *registry.Registry, dir directory.Directory, o *orch.Orchestrator) *Controller {
	return &Controller{Registry: reg, Directory: dir, Orch: o}
}

// Register wires every message type to its handler.
func (ctl *Controller) Register(r *Router) {
	r.Handle("join", ctl.handleJoin)

	// Directed/broadcast relay, no orchestration.
	for _, t := range []string{"offer", "answer", "ice-candidate", "mute", "chat", "reaction", "whiteboard", "key-exchange"} {
		r.Handle(t, ctl.relaySignal)
	}

	r.Handle("getRouterCapabilities", ctl.handleRouterCapabilities)
	r.Handle("createTransport", ctl.handleCreateTransport)
	r.Handle("connectTransport", ctl.handleConnectTransport)
	r.Handle("produce", ctl.handleProduce)
	r.Handle("closeProducer", ctl.handleCloseProducer)
	r.Handle("consume", ctl.handleConsume)

	r.Handle(TypeDisconnect, ctl.handleDisconnect)
}

type peerDTO struct {
	PeerID domain.PeerID `json:"peerId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

func (ctl *Controller) handleJoin(ctx context.Context, c *Context, data []byte) {
	type joinPayload struct {
		Type      string `json:"type"`
		RoomID    string `json:"roomId"`
		RequestID string `json:"requestId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		sendError(c, p.RequestID, codeBadPayload, "bad join payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	room, err := ctl.Directory.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			sendError(c, p.RequestID, codeRoomNotFound, "room does not exist")
		} else {
			log.Error().Err(err).Str("module", "signal").Str("room", p.RoomID).Msg("directory read failed")
			sendError(c, p.RequestID, codeInternal, "room lookup failed")
		}
		return
	}
	if !room.IsActive {
		sendError(c, p.RequestID, codeMeetingEnded, "meeting has ended")
		return
	}

	// The host role comes from the persisted room; everyone else must
	// already exist as a participant record. Joining the socket channel
	// never creates one.
	role := domain.RoleHost
	if room.HostID != c.UserID {
		role, err = ctl.Directory.GetParticipantRole(ctx, roomID, c.UserID)
		if err != nil {
			if errors.Is(err, directory.ErrNotParticipant) {
				sendError(c, p.RequestID, codeNotParticipant, "not a participant of this room")
			} else {
				log.Error().Err(err).Str("module", "signal").Str("room", p.RoomID).Msg("participant lookup failed")
				sendError(c, p.RequestID, codeInternal, "participant lookup failed")
			}
			return
		}
		if role == "" {
			role = domain.RoleParticipant
		}
	}

	peer := &registry.Peer{ID: c.PeerID, UserID: c.UserID, Role: role, Conn: c.Conn}
	replaced, err := ctl.Registry.Join(roomID, peer, room.MaxParticipants)
	if errors.Is(err, registry.ErrRoomFull) {
		sendError(c, p.RequestID, codeRoomFull, "room is full")
		return
	}

	c.RoomID = roomID
	c.Role = role

	if replaced != nil {
		// Reconnect: the stale connection learns it was superseded, the
		// rest of the room sees the old peer leave before the new one
		// arrives.
		sendJSON(replaced.Conn, map[string]any{"type": "connection-replaced", "peerId": replaced.ID})
		replaced.Conn.Close()
		ctl.Registry.BroadcastExcept(roomID, c.PeerID, map[string]any{
			"type":   "peer-left",
			"peerId": replaced.ID,
			"reason": "replaced",
		})
		log.Info().Str("module", "signal").Str("room", p.RoomID).Str("user", string(c.UserID)).Msg("stale connection replaced")
	}

	sendJSON(c.Conn, map[string]any{
		"type":      "role",
		"requestId": p.RequestID,
		"roomId":    roomID,
		"peerId":    c.PeerID,
		"role":      role,
	})

	others := make([]peerDTO, 0)
	for _, other := range ctl.Registry.Peers(roomID) {
		if other.ID != c.PeerID {
			others = append(others, peerDTO{PeerID: other.ID, UserID: other.UserID, Role: other.Role})
		}
	}
	if len(others) > 0 {
		ctl.Registry.BroadcastExcept(roomID, c.PeerID, map[string]any{
			"type":   "peer-joined",
			"peerId": c.PeerID,
			"userId": c.UserID,
			"role":   role,
		})
		sendJSON(c.Conn, map[string]any{"type": "existing-peers", "peers": others})
	}

	if room.Type == domain.RoomTypeGroup {
		producers := make([]orch.ProducerInfo, 0)
		for _, other := range others {
			producers = append(producers, ctl.Orch.ProducersForPeer(other.PeerID)...)
		}
		sendJSON(c.Conn, map[string]any{"type": "existingProducers", "producers": producers})
	}

	log.Info().Str("module", "signal").Str("room", p.RoomID).Str("peer", string(c.PeerID)).Str("role", string(role)).Msg("join")
}

// relaySignal forwards negotiation and room-level events verbatim, plus a
// `from` stamp. Directed when targetPeerId names a peer, broadcast
// otherwise. Before join completes there is no room to relay into, so the
// message is dropped silently rather than answered with an error.
func (ctl *Controller) relaySignal(ctx context.Context, c *Context, data []byte) {
	if c.RoomID == "" {
		return
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		sendError(c, "", codeBadPayload, "bad relay payload")
		return
	}
	msg["from"] = string(c.PeerID)

	if target, _ := msg["targetPeerId"].(string); target != "" {
		ctl.Registry.SendTo(c.RoomID, domain.PeerID(target), msg)
		return
	}
	ctl.Registry.BroadcastExcept(c.RoomID, c.PeerID, msg)
}
