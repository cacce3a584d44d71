package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/domain"
	"github.com/mlevan/huddle/internal/registry"
)

// Context is the per-connection mutable record threaded through every
// handler invocation. The gateway creates it after authentication; the
// join handler fills in RoomID and Role; it dies with the connection.
// Only handlers dispatched for this connection touch it, so no lock.
type Context struct {
	PeerID domain.PeerID
	UserID domain.UserID
	RoomID domain.RoomID
	Role   domain.Role
	Conn   registry.SignalConn
}

type errorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Scoped error codes; the connection always survives these.
const (
	codeBadPayload       = "bad-payload"
	codeUnknownType      = "unknown-type"
	codeRoomNotFound     = "room-not-found"
	codeMeetingEnded     = "meeting-ended"
	codeRoomFull         = "room-full"
	codeNotParticipant   = "not-a-participant"
	codeNoRouter         = "no-router"
	codeUnknownTransport = "unknown-transport"
	codeUnknownProducer  = "unknown-producer"
	codeCannotConsume    = "cannot-consume"
	codeMediaUnavailable = "media-unavailable"
	codeInternal         = "internal-error"
)

func sendJSON(conn registry.SignalConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(data)
}

func sendError(c *Context, requestID, code, message string) {
	log.Debug().Str("module", "signal").Str("peer", string(c.PeerID)).Str("code", code).Msg("scoped error")
	sendJSON(c.Conn, errorMessage{Type: "error", Code: code, Message: message, RequestID: requestID})
}
