// Package media is the control-plane contract with the media-routing
// service: routers per room, one-way transports per peer, producers and
// consumers on top of them. Signaling code talks to the Service interface
// only; the engine behind it is replaceable.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/mlevan/huddle/internal/domain"
)

var (
	ErrWorkerDown       = errors.New("media worker down")
	ErrUnknownRouter    = errors.New("unknown router")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrUnknownProducer  = errors.New("unknown producer")
	ErrCannotConsume    = errors.New("cannot consume")
	ErrBadMediaKind     = errors.New("bad media kind")
)

// Aliases so signaling code can plumb negotiation parameters through
// without importing pion everywhere.
type (
	DTLS = webrtc.DTLSParameters
	RTP  = webrtc.RTPParameters
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// RouterCapabilities is the codec set a room's router negotiated.
type RouterCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

type ICECandidateInfo struct {
	Foundation string `json:"foundation"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	Type       string `json:"type"`
}

// TransportInfo carries the connection parameters a client needs to set up
// one leg of its media path.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidateInfo    `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type ConsumerInfo struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          string               `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtpParameters"`
}

// RTPCapabilities is what a consuming client says it can receive.
type RTPCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

type Service interface {
	CreateOrGetRouter(ctx context.Context, roomID domain.RoomID) (RouterCapabilities, error)
	CloseRouter(roomID domain.RoomID)

	CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, dir Direction) (TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error
	CloseTransport(transportID string)

	Produce(ctx context.Context, transportID, kind string, rtp webrtc.RTPParameters) (string, error)
	CloseProducer(producerID string)

	CanConsume(producerID string, caps RTPCapabilities) bool
	Consume(ctx context.Context, transportID, producerID string, caps RTPCapabilities) (ConsumerInfo, error)
	CloseConsumer(consumerID string)
}
