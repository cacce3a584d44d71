package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mlevan/huddle/internal/media"
)

// mediaErrorCode maps orchestrator/media failures onto wire error codes.
func mediaErrorCode(err error) string {
	switch {
	case errors.Is(err, media.ErrWorkerDown):
		return codeMediaUnavailable
	case errors.Is(err, media.ErrUnknownRouter):
		return codeNoRouter
	case errors.Is(err, media.ErrUnknownTransport):
		return codeUnknownTransport
	case errors.Is(err, media.ErrUnknownProducer):
		return codeUnknownProducer
	case errors.Is(err, media.ErrCannotConsume):
		return codeCannotConsume
	case errors.Is(err, media.ErrBadMediaKind):
		return codeBadPayload
	default:
		return codeInternal
	}
}

// requireRoom guards the media-control handlers: every one of them acts on
// the joined room's router.
func requireRoom(c *Context, requestID string) bool {
	if c.RoomID == "" {
		sendError(c, requestID, codeNoRouter, "join a room first")
		return false
	}
	return true
}

func (ctl *Controller) handleRouterCapabilities(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(data, &p)
	if !requireRoom(c, p.RequestID) {
		return
	}

	caps, err := ctl.Orch.RouterCapabilities(ctx, c.RoomID)
	if err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":         "routerCapabilities",
		"requestId":    p.RequestID,
		"capabilities": caps,
	})
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID string `json:"requestId"`
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(c, p.RequestID, codeBadPayload, "bad createTransport payload")
		return
	}
	if !requireRoom(c, p.RequestID) {
		return
	}
	dir := media.Direction(p.Direction)
	if dir != media.DirectionSend && dir != media.DirectionRecv {
		sendError(c, p.RequestID, codeBadPayload, "direction must be send or recv")
		return
	}

	info, err := ctl.Orch.CreateTransport(ctx, c.RoomID, c.PeerID, dir)
	if err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":      "transportCreated",
		"requestId": p.RequestID,
		"direction": dir,
		"transport": info,
	})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID      string     `json:"requestId"`
		TransportID    string     `json:"transportId"`
		DTLSParameters media.DTLS `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		sendError(c, p.RequestID, codeBadPayload, "bad connectTransport payload")
		return
	}
	if !requireRoom(c, p.RequestID) {
		return
	}

	if err := ctl.Orch.ConnectTransport(ctx, c.PeerID, p.TransportID, p.DTLSParameters); err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":        "transportConnected",
		"requestId":   p.RequestID,
		"transportId": p.TransportID,
	})
}

func (ctl *Controller) handleProduce(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID     string         `json:"requestId"`
		TransportID   string         `json:"transportId"`
		Kind          string         `json:"kind"`
		RTPParameters media.RTP      `json:"rtpParameters"`
		AppData       map[string]any `json:"appData"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || p.Kind == "" {
		sendError(c, p.RequestID, codeBadPayload, "bad produce payload")
		return
	}
	if !requireRoom(c, p.RequestID) {
		return
	}

	info, err := ctl.Orch.Produce(ctx, c.PeerID, p.TransportID, p.Kind, p.RTPParameters, p.AppData)
	if err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":       "produced",
		"requestId":  p.RequestID,
		"producerId": info.ID,
	})
	ctl.Registry.BroadcastExcept(c.RoomID, c.PeerID, map[string]any{
		"type":       "newProducer",
		"producerId": info.ID,
		"peerId":     c.PeerID,
		"kind":       info.Kind,
		"appData":    info.AppData,
	})
}

func (ctl *Controller) handleCloseProducer(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID  string `json:"requestId"`
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		sendError(c, p.RequestID, codeBadPayload, "bad closeProducer payload")
		return
	}
	if !requireRoom(c, p.RequestID) {
		return
	}

	if err := ctl.Orch.CloseProducer(c.PeerID, p.ProducerID); err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":       "producerClosed",
		"requestId":  p.RequestID,
		"producerId": p.ProducerID,
		"peerId":     c.PeerID,
	})
	ctl.Registry.BroadcastExcept(c.RoomID, c.PeerID, map[string]any{
		"type":       "producerClosed",
		"producerId": p.ProducerID,
		"peerId":     c.PeerID,
	})
}

func (ctl *Controller) handleConsume(ctx context.Context, c *Context, data []byte) {
	var p struct {
		RequestID       string                `json:"requestId"`
		ProducerID      string                `json:"producerId"`
		RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		sendError(c, p.RequestID, codeBadPayload, "bad consume payload")
		return
	}
	if !requireRoom(c, p.RequestID) {
		return
	}

	info, origin, err := ctl.Orch.Consume(ctx, c.PeerID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		sendError(c, p.RequestID, mediaErrorCode(err), err.Error())
		return
	}
	sendJSON(c.Conn, map[string]any{
		"type":      "consumed",
		"requestId": p.RequestID,
		"consumer":  info,
		"peerId":    origin.PeerID,
		"appData":   origin.AppData,
	})
}
