package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/auth"
	"github.com/mlevan/huddle/internal/config"
	"github.com/mlevan/huddle/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway authenticates inbound connections and runs their read loops.
// Nothing downstream ever sees a connection without a verified userId.
type Gateway struct {
	cfg      *config.Config
	verifier *auth.Verifier
	router   *Router
	guard    *floodGuard

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewGateway(cfg *config.Config, verifier *auth.Verifier, router *Router) *Gateway {
	return &Gateway{
		cfg:      cfg,
		verifier: verifier,
		router:   router,
		guard:    newFloodGuard(cfg.Rate.Limit, cfg.Rate.Window),
		conns:    make(map[*Conn]struct{}),
	}
}

// HandleWS upgrades, authenticates and serves one connection until its
// socket closes. The credential check happens after the upgrade so the
// policy-violation close code actually reaches the client.
func (g *Gateway) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	userID, err := g.authenticate(c.Request)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("connection refused")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	conn := newConn(ws)
	sctx := &Context{
		PeerID: domain.PeerID(uuid.NewString()),
		UserID: userID,
		Conn:   conn,
	}
	log.Info().Str("module", "signal").Str("peer", string(sctx.PeerID)).Str("user", string(userID)).Msg("new WS connection")

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.track(conn)
	defer g.untrack(conn)
	go conn.writePump(wctx, g.cfg.PingPeriod)

	g.readLoop(wctx, sctx, ws)

	conn.Close()
	// Synthesize the disconnect event with a snapshot of the final
	// context. Cleanup must run even when wctx died with the server.
	g.router.DispatchDisconnect(context.Background(), sctx)
}

func (g *Gateway) authenticate(r *http.Request) (domain.UserID, error) {
	credential, err := auth.CredentialFromRequest(r)
	if err != nil {
		return "", err
	}
	return g.verifier.Verify(credential)
}

func (g *Gateway) readLoop(ctx context.Context, sctx *Context, ws *websocket.Conn) {
	// A peer that misses a whole ping interval blows the deadline and is
	// forcibly terminated through the normal disconnect path.
	pongWait := 2 * g.cfg.PingPeriod
	if g.cfg.ReadLimit > 0 {
		ws.SetReadLimit(g.cfg.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer g.guard.Forget(sctx.PeerID)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("peer", string(sctx.PeerID)).Msg("read error")
			}
			return
		}
		if !g.guard.Allow(sctx.PeerID) {
			log.Warn().Str("module", "signal").Str("peer", string(sctx.PeerID)).Msg("message rate exceeded, terminating connection")
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "message rate exceeded")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
		g.router.Dispatch(ctx, sctx, data)
	}
}

func (g *Gateway) track(conn *Conn) {
	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn *Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

func (g *Gateway) activeConns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every live connection with a server-shutdown code, then
// waits up to grace for their disconnect cleanup to finish.
func (g *Gateway) Shutdown(grace time.Duration) {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	log.Info().Str("module", "signal").Int("conns", len(conns)).Msg("draining connections")
	for _, conn := range conns {
		conn.CloseWith(websocket.CloseServiceRestart, "server shutting down")
	}

	deadline := time.Now().Add(grace)
	for g.activeConns() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := g.activeConns(); n > 0 {
		log.Warn().Str("module", "signal").Int("conns", n).Msg("grace period expired with connections still draining")
	}
}

// SetupRouter wires the HTTP surface: health probe plus the signaling
// endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, gw *Gateway) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		gw.HandleWS(ctx, c)
	})

	return r
}
