package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// TypeDisconnect is the pseudo-type synthesized when a socket closes. It
// never arrives on the wire; registering a handler for it hooks cleanup.
const TypeDisconnect = "disconnect"

type HandlerFunc func(ctx context.Context, c *Context, data []byte)

// Router dispatches inbound messages by their type discriminator. Parse
// and dispatch failures get a scoped error reply; the connection stays up.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.handlers[msgType] = h
}

func (r *Router) Dispatch(ctx context.Context, c *Context, data []byte) {
	var env struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Str("module", "signal").Str("peer", string(c.PeerID)).Msg("malformed message")
		sendError(c, env.RequestID, codeBadPayload, "malformed message")
		return
	}
	if env.Type == TypeDisconnect {
		// Clients cannot fake their own teardown.
		sendError(c, env.RequestID, codeUnknownType, "reserved message type")
		return
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		sendError(c, env.RequestID, codeUnknownType, "unrecognized message type "+env.Type)
		return
	}
	h(ctx, c, data)
}

// DispatchDisconnect invokes the disconnect handler with the final
// context. The socket is already gone, so a panicking handler is logged
// and swallowed.
func (r *Router) DispatchDisconnect(ctx context.Context, c *Context) {
	h, ok := r.handlers[TypeDisconnect]
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Any("panic", rec).Str("module", "signal").Str("peer", string(c.PeerID)).Msg("disconnect handler panicked")
		}
	}()
	h(ctx, c, nil)
}
