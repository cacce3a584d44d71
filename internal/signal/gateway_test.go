package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/mlevan/huddle/internal/auth"
	"github.com/mlevan/huddle/internal/config"
)

const gatewaySecret = "gateway-test-secret"

func signCredential(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newGatewayServer(t *testing.T, cfg *config.Config) (*httptest.Server, *Controller, *fakeDirectory) {
	t.Helper()
	ctl, dir := newTestController(t)
	r := NewRouter()
	ctl.Register(r)
	gw := NewGateway(cfg, auth.NewVerifier(gatewaySecret), r)
	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, gw))
	t.Cleanup(srv.Close)
	return srv, ctl, dir
}

func gatewayConfig() *config.Config {
	return &config.Config{
		Mode:       "release",
		ReadLimit:  65536,
		PingPeriod: time.Second,
	}
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func readWire(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func expectPolicyClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("read ended without close frame: %v", err)
		}
		if closeErr.Code != websocket.ClosePolicyViolation {
			t.Fatalf("close code=%d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
		}
		return
	}
}

// Scenario: a connection without a valid credential is upgraded, refused
// with the policy-violation code, and leaves no server state behind.
func TestGatewayRejectsBadCredentials(t *testing.T) {
	srv, ctl, dir := newGatewayServer(t, gatewayConfig())
	dir.addRoom(directRoom("room", "u1", 4))

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong signature", signCredential(t, "other-secret", "u1", time.Hour)},
		{"expired", signCredential(t, gatewaySecret, "u1", -time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := dialWS(t, srv, tt.token)
			expectPolicyClose(t, ws)
		})
	}
	if ctl.Registry.HasRoom("room") {
		t.Fatal("refused connections created registry state")
	}
}

// One full session over a real socket: authenticate, fail a join, succeed a
// join, then disconnect and observe the synthesized cleanup.
func TestGatewayAuthenticatedSession(t *testing.T) {
	srv, ctl, dir := newGatewayServer(t, gatewayConfig())
	dir.addRoom(directRoom("room", "u1", 4))

	ws := dialWS(t, srv, signCredential(t, gatewaySecret, "u1", time.Hour))

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"ghost","requestId":"j1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readWire(t, ws)
	if msg["type"] != "error" || msg["code"] != codeRoomNotFound || msg["requestId"] != "j1" {
		t.Fatalf("join ghost reply=%v", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"room","requestId":"j2"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readWire(t, ws)
	if msg["type"] != "role" || msg["role"] != "host" || msg["requestId"] != "j2" {
		t.Fatalf("join reply=%v", msg)
	}
	if !ctl.Registry.HasRoom("room") {
		t.Fatal("join did not register the peer")
	}

	ws.Close()
	waitFor(t, "disconnect cleanup", func() bool { return !ctl.Registry.HasRoom("room") })
	waitFor(t, "departure write", func() bool { return dir.leftCount() == 1 })
}

func TestGatewayTerminatesFloodingConnection(t *testing.T) {
	cfg := gatewayConfig()
	cfg.Rate = config.RateConfig{Limit: 3, Window: time.Minute}
	srv, _, _ := newGatewayServer(t, cfg)

	ws := dialWS(t, srv, signCredential(t, gatewaySecret, "u1", time.Hour))
	for i := 0; i < 10; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"noise"}`)); err != nil {
			break
		}
	}
	expectPolicyClose(t, ws)
}
