package signal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mlevan/huddle/internal/domain"
	"github.com/mlevan/huddle/internal/media"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Scenario: a peer's socket dies mid-call. Its media goes away, the room
// hears about it exactly once, and the departure reaches the room store.
func TestDisconnectCleansUpPeer(t *testing.T) {
	ctl, dir := newTestController(t)
	dir.addRoom(groupRoom("room", "ua", 8))
	dir.addParticipant("room", "ub", domain.RoleParticipant)

	r := NewRouter()
	ctl.Register(r)
	ctx := context.Background()

	ca, connA := join(t, ctl, "ua", "a", "room")
	cb, connB := join(t, ctl, "ub", "b", "room")
	sendA := setupTransports(t, r, ca, connA)
	setupTransports(t, r, cb, connB)

	r.Dispatch(ctx, ca, []byte(fmt.Sprintf(
		`{"type":"produce","requestId":"pr1","transportId":"%s","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"payloadType":111}]}}`, sendA)))
	producerID := reply(t, connA, "produced")["producerId"].(string)

	ctl.handleDisconnect(ctx, ca, nil)

	if _, live := ctl.Registry.Peer("room", "a"); live {
		t.Fatal("disconnected peer still registered")
	}
	left := connB.ofType("peer-left")
	if len(left) != 1 || left[0]["peerId"] != "a" {
		t.Fatalf("peer-left on B=%v", left)
	}
	closed := left[0]["closedProducers"].([]any)
	if len(closed) != 1 || closed[0] != producerID {
		t.Fatalf("closedProducers=%v, want [%s]", closed, producerID)
	}
	if got := ctl.Orch.ProducersForPeer("a"); len(got) != 0 {
		t.Fatalf("producers survived disconnect: %v", got)
	}
	waitFor(t, "departure write", func() bool { return dir.leftCount() == 1 })

	// Last peer out tears the room's router down.
	ctl.handleDisconnect(ctx, cb, nil)
	if ctl.Registry.HasRoom("room") {
		t.Fatal("empty room kept its registry entry")
	}
	_, err := ctl.Orch.Media.CreateTransport(ctx, "room", "ghost", media.DirectionSend)
	if !errors.Is(err, media.ErrUnknownRouter) {
		t.Fatalf("router survived last departure: err=%v", err)
	}
	waitFor(t, "second departure write", func() bool { return dir.leftCount() == 2 })
}

// The socket of a replaced connection eventually closes too; that late
// disconnect must not notify the room a second time.
func TestDisconnectOfSupersededConnection(t *testing.T) {
	ctl, dir := newTestController(t)
	dir.addRoom(directRoom("room", "host-user", 2))
	dir.addParticipant("room", "guest-user", domain.RoleParticipant)

	c1, _ := join(t, ctl, "guest-user", "y1", "room")
	_, hostConn := join(t, ctl, "host-user", "x", "room")
	join(t, ctl, "guest-user", "y2", "room")

	ctl.handleDisconnect(context.Background(), c1, nil)

	left := hostConn.ofType("peer-left")
	if len(left) != 1 || left[0]["reason"] != "replaced" {
		t.Fatalf("peer-left on host=%v, want only the replacement notice", left)
	}
	if _, live := ctl.Registry.Peer("room", "y2"); !live {
		t.Fatal("replacement peer lost its slot")
	}
	// The user is still in the call; nothing to persist.
	time.Sleep(50 * time.Millisecond)
	if dir.leftCount() != 0 {
		t.Fatal("superseded disconnect recorded a departure")
	}
}

func TestDisconnectBeforeJoin(t *testing.T) {
	ctl, dir := newTestController(t)
	c := &Context{PeerID: "p", UserID: "u", Conn: &fakeConn{}}
	ctl.handleDisconnect(context.Background(), c, nil)
	if dir.leftCount() != 0 {
		t.Fatal("departure recorded for a peer that never joined")
	}
}
