// Package orch owns per-peer media state and drives the media-routing
// service on behalf of the signaling handlers: router lifecycle per room,
// one send and one receive transport per peer, producers and consumers.
package orch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/domain"
	"github.com/mlevan/huddle/internal/media"
)

// ProducerInfo is what the rest of the room learns about a producer.
type ProducerInfo struct {
	ID      string         `json:"producerId"`
	PeerID  domain.PeerID  `json:"peerId"`
	Kind    string         `json:"kind"`
	AppData map[string]any `json:"appData,omitempty"`
}

// peerState mirrors what the peer owns on the media service. Its mutex
// serializes that peer's media mutations so concurrent requests cannot
// interleave transport or producer bookkeeping.
type peerState struct {
	mu            sync.Mutex
	roomID        domain.RoomID
	sendTransport string
	recvTransport string
	producers     map[string]*ProducerInfo
	consumers     map[string]string // consumerID -> producerID
}

type Orchestrator struct {
	Media media.Service

	mu     sync.Mutex
	peers  map[domain.PeerID]*peerState
	owners map[string]domain.PeerID // producerID -> owning peer
}

func New(svc media.Service) *Orchestrator {
	return &Orchestrator{
		Media:  svc,
		peers:  make(map[domain.PeerID]*peerState),
		owners: make(map[string]domain.PeerID),
	}
}

// RouterCapabilities returns the room's negotiated codec set, creating the
// room's router on first use.
func (o *Orchestrator) RouterCapabilities(ctx context.Context, roomID domain.RoomID) (media.RouterCapabilities, error) {
	return o.Media.CreateOrGetRouter(ctx, roomID)
}

func (o *Orchestrator) peer(peerID domain.PeerID, roomID domain.RoomID) *peerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.peers[peerID]
	if !ok {
		ps = &peerState{
			roomID:    roomID,
			producers: make(map[string]*ProducerInfo),
			consumers: make(map[string]string),
		}
		o.peers[peerID] = ps
	}
	return ps
}

func (o *Orchestrator) livePeer(peerID domain.PeerID) (*peerState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.peers[peerID]
	return ps, ok
}

// CreateTransport retains exactly one transport per direction per peer; a
// repeat request replaces the previous one.
func (o *Orchestrator) CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, dir media.Direction) (media.TransportInfo, error) {
	ps := o.peer(peerID, roomID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	info, err := o.Media.CreateTransport(ctx, roomID, peerID, dir)
	if err != nil {
		return media.TransportInfo{}, err
	}
	switch dir {
	case media.DirectionSend:
		if ps.sendTransport != "" {
			o.Media.CloseTransport(ps.sendTransport)
		}
		ps.sendTransport = info.ID
	default:
		if ps.recvTransport != "" {
			o.Media.CloseTransport(ps.recvTransport)
		}
		ps.recvTransport = info.ID
	}
	return info, nil
}

// ConnectTransport finalizes the handshake of a transport the peer owns.
func (o *Orchestrator) ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID string, dtls media.DTLS) error {
	ps, ok := o.livePeer(peerID)
	if !ok {
		return media.ErrUnknownTransport
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if transportID != ps.sendTransport && transportID != ps.recvTransport {
		return media.ErrUnknownTransport
	}
	return o.Media.ConnectTransport(ctx, transportID, dtls)
}

// Produce registers a producer on the peer's send transport.
func (o *Orchestrator) Produce(ctx context.Context, peerID domain.PeerID, transportID, kind string, rtp media.RTP, appData map[string]any) (*ProducerInfo, error) {
	ps, ok := o.livePeer(peerID)
	if !ok {
		return nil, media.ErrUnknownTransport
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if transportID == "" || transportID != ps.sendTransport {
		return nil, media.ErrUnknownTransport
	}

	producerID, err := o.Media.Produce(ctx, transportID, kind, rtp)
	if err != nil {
		return nil, err
	}
	info := &ProducerInfo{ID: producerID, PeerID: peerID, Kind: kind, AppData: appData}
	ps.producers[producerID] = info

	o.mu.Lock()
	o.owners[producerID] = peerID
	o.mu.Unlock()
	return info, nil
}

// CloseProducer closes one producer the peer owns.
func (o *Orchestrator) CloseProducer(peerID domain.PeerID, producerID string) error {
	ps, ok := o.livePeer(peerID)
	if !ok {
		return media.ErrUnknownProducer
	}
	ps.mu.Lock()
	if _, ok := ps.producers[producerID]; !ok {
		ps.mu.Unlock()
		return media.ErrUnknownProducer
	}
	delete(ps.producers, producerID)
	ps.mu.Unlock()

	o.Media.CloseProducer(producerID)
	o.mu.Lock()
	delete(o.owners, producerID)
	o.mu.Unlock()
	o.dropConsumersOf(producerID)
	return nil
}

// Consume subscribes the peer's receive transport to a live producer and
// returns the consumer parameters plus the producer's announcement data.
func (o *Orchestrator) Consume(ctx context.Context, peerID domain.PeerID, producerID string, caps media.RTPCapabilities) (media.ConsumerInfo, *ProducerInfo, error) {
	ps, ok := o.livePeer(peerID)
	if !ok {
		return media.ConsumerInfo{}, nil, media.ErrUnknownTransport
	}

	origin, ok := o.producerInfo(producerID)
	if !ok {
		return media.ConsumerInfo{}, nil, media.ErrUnknownProducer
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.recvTransport == "" {
		return media.ConsumerInfo{}, nil, media.ErrUnknownTransport
	}
	if !o.Media.CanConsume(producerID, caps) {
		return media.ConsumerInfo{}, nil, media.ErrCannotConsume
	}
	info, err := o.Media.Consume(ctx, ps.recvTransport, producerID, caps)
	if err != nil {
		return media.ConsumerInfo{}, nil, err
	}
	ps.consumers[info.ID] = producerID
	return info, origin, nil
}

func (o *Orchestrator) producerInfo(producerID string) (*ProducerInfo, bool) {
	o.mu.Lock()
	owner, ok := o.owners[producerID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	ps, ok := o.livePeer(owner)
	if !ok {
		return nil, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	info, ok := ps.producers[producerID]
	return info, ok
}

// ProducersForPeer lists the peer's live producers; used to answer
// existingProducers on join.
func (o *Orchestrator) ProducersForPeer(peerID domain.PeerID) []ProducerInfo {
	ps, ok := o.livePeer(peerID)
	if !ok {
		return nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]ProducerInfo, 0, len(ps.producers))
	for _, p := range ps.producers {
		out = append(out, *p)
	}
	return out
}

// ClosePeer tears down everything the peer owns on the media service and
// returns the producer ids that were closed. Idempotent: a second call
// finds no state and returns an empty set.
func (o *Orchestrator) ClosePeer(peerID domain.PeerID) []string {
	o.mu.Lock()
	ps, ok := o.peers[peerID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.peers, peerID)
	o.mu.Unlock()

	ps.mu.Lock()
	closed := make([]string, 0, len(ps.producers))
	for id := range ps.producers {
		closed = append(closed, id)
	}
	consumers := make([]string, 0, len(ps.consumers))
	for id := range ps.consumers {
		consumers = append(consumers, id)
	}
	send, recv := ps.sendTransport, ps.recvTransport
	ps.producers = map[string]*ProducerInfo{}
	ps.consumers = map[string]string{}
	ps.sendTransport, ps.recvTransport = "", ""
	ps.mu.Unlock()

	for _, id := range consumers {
		o.Media.CloseConsumer(id)
	}
	for _, id := range closed {
		o.Media.CloseProducer(id)
		o.mu.Lock()
		delete(o.owners, id)
		o.mu.Unlock()
		o.dropConsumersOf(id)
	}
	if send != "" {
		o.Media.CloseTransport(send)
	}
	if recv != "" {
		o.Media.CloseTransport(recv)
	}
	log.Info().Str("module", "orch").Str("peer", string(peerID)).Int("producers_closed", len(closed)).Msg("peer media closed")
	return closed
}

// CloseRoom discards the room's router once its peer set is empty.
func (o *Orchestrator) CloseRoom(roomID domain.RoomID) {
	o.Media.CloseRouter(roomID)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room router closed")
}

// dropConsumersOf removes other peers' consumer bookkeeping for a closed
// producer; the media service has already closed the consumers themselves.
func (o *Orchestrator) dropConsumersOf(producerID string) {
	o.mu.Lock()
	states := make([]*peerState, 0, len(o.peers))
	for _, ps := range o.peers {
		states = append(states, ps)
	}
	o.mu.Unlock()

	for _, ps := range states {
		ps.mu.Lock()
		for cid, pid := range ps.consumers {
			if pid == producerID {
				delete(ps.consumers, cid)
			}
		}
		ps.mu.Unlock()
	}
}
