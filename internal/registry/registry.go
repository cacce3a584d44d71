// Package registry holds the in-memory table of live peers per room. It is
// the single source of truth for "who is in this room" while the process
// runs; the persisted directory is only eventually consistent with it.
package registry

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/domain"
)

var ErrRoomFull = errors.New("room full")

// SignalConn is the transport half the registry fans out to.
// Owned by the signal adapter; the adapter must Close() it.
type SignalConn interface {
	TrySend([]byte) error
	Close()
}

// Peer is one live connection's membership in a room.
type Peer struct {
	ID     domain.PeerID
	UserID domain.UserID
	Role   domain.Role
	Conn   SignalConn
}

// Registry is threadsafe. A room entry exists iff its peer set is
// non-empty; removal of the last peer deletes the entry.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.PeerID]*Peer
}

func New() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]map[domain.PeerID]*Peer)}
}

// AddPeer upserts by peer id: a re-add replaces the connection and role
// but keeps the peer id.
func (r *Registry) AddPeer(roomID domain.RoomID, p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[domain.PeerID]*Peer)
		r.rooms[roomID] = room
	}
	room[p.ID] = p
	log.Info().Str("module", "registry").Str("room", string(roomID)).Str("peer", string(p.ID)).Msg("peer added")
}

// Join atomically admits a peer, resolving capacity and reconnection in
// one step. A user with a live entry always gets in (last-wins: the stale
// peer is removed and returned so the caller can notify and close it);
// otherwise the room must have a free slot. maxPeers <= 0 means unlimited.
func (r *Registry) Join(roomID domain.RoomID, p *Peer, maxPeers int) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[domain.PeerID]*Peer)
		r.rooms[roomID] = room
	}

	var replaced *Peer
	for id, other := range room {
		if other.UserID == p.UserID {
			replaced = other
			delete(room, id)
			break
		}
	}
	if replaced == nil && maxPeers > 0 && len(room) >= maxPeers {
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
		return nil, ErrRoomFull
	}
	room[p.ID] = p
	log.Info().Str("module", "registry").Str("room", string(roomID)).Str("peer", string(p.ID)).
		Bool("reconnect", replaced != nil).Msg("peer joined")
	return replaced, nil
}

// RemovePeer drops the peer and returns the remaining peers. The room
// entry is deleted once empty.
func (r *Registry) RemovePeer(roomID domain.RoomID, peerID domain.PeerID) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	if room == nil {
		return nil
	}
	if _, ok := room[peerID]; ok {
		delete(room, peerID)
		log.Info().Str("module", "registry").Str("room", string(roomID)).Str("peer", string(peerID)).Msg("peer removed")
	}
	if len(room) == 0 {
		delete(r.rooms, roomID)
		return nil
	}
	remaining := make([]*Peer, 0, len(room))
	for _, p := range room {
		remaining = append(remaining, p)
	}
	return remaining
}

func (r *Registry) Peers(roomID domain.RoomID) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	out := make([]*Peer, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Peer(roomID domain.RoomID, peerID domain.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rooms[roomID][peerID]
	return p, ok
}

func (r *Registry) HasRoom(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// IsFull counts live peers only; departed peers do not hold slots.
func (r *Registry) IsFull(roomID domain.RoomID, maxPeers int) bool {
	if maxPeers <= 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID]) >= maxPeers
}

// BroadcastExcept serializes v once and fires it at every peer in the room
// but the sender. A failed send is logged and skipped so one bad socket
// cannot block delivery to the rest.
func (r *Registry) BroadcastExcept(roomID domain.RoomID, sender domain.PeerID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("broadcast marshal")
		return
	}
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.rooms[roomID]))
	for _, p := range r.rooms[roomID] {
		if p.ID != sender {
			peers = append(peers, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.Conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "registry").Str("room", string(roomID)).Str("peer", string(p.ID)).Msg("broadcast send dropped")
		}
	}
}

// SendTo delivers v to a single peer in the room, if present.
func (r *Registry) SendTo(roomID domain.RoomID, target domain.PeerID, v any) bool {
	r.mu.RLock()
	p, ok := r.rooms[roomID][target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("send marshal")
		return false
	}
	if err := p.Conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "registry").Str("peer", string(target)).Msg("directed send dropped")
		return false
	}
	return true
}
