package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/domain"
)

// defaultCodecs is the capability set every router starts from.
var defaultCodecs = []webrtc.RTPCodecCapability{
	{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
	{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1"},
}

type router struct {
	id   string
	caps RouterCapabilities
}

type transport struct {
	id        string
	roomID    domain.RoomID
	peerID    domain.PeerID
	dir       Direction
	connected bool
}

type producer struct {
	id          string
	transportID string
	roomID      domain.RoomID
	kind        string
	rtp         webrtc.RTPParameters
}

type consumer struct {
	id          string
	transportID string
	producerID  string
}

// Engine is the in-process worker hosting every router. All state dies
// with it; a restarted worker starts empty and peers rejoin from scratch.
type Engine struct {
	mu         sync.Mutex
	closed     bool
	routers    map[domain.RoomID]*router
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer
}

func NewEngine() (*Engine, error) {
	return &Engine{
		routers:    make(map[domain.RoomID]*router),
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.routers = map[domain.RoomID]*router{}
	e.transports = map[string]*transport{}
	e.producers = map[string]*producer{}
	e.consumers = map[string]*consumer{}
}

func (e *Engine) CreateOrGetRouter(ctx context.Context, roomID domain.RoomID) (RouterCapabilities, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.routers[roomID]; ok {
		return r.caps, nil
	}
	r := &router{
		id:   uuid.NewString(),
		caps: RouterCapabilities{Codecs: defaultCodecs},
	}
	e.routers[roomID] = r
	log.Info().Str("module", "media").Str("room", string(roomID)).Str("router", r.id).Msg("router created")
	return r.caps, nil
}

func (e *Engine) CloseRouter(roomID domain.RoomID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routers[roomID]
	if !ok {
		return
	}
	delete(e.routers, roomID)
	for id, t := range e.transports {
		if t.roomID == roomID {
			delete(e.transports, id)
		}
	}
	for id, p := range e.producers {
		if p.roomID == roomID {
			delete(e.producers, id)
		}
	}
	log.Info().Str("module", "media").Str("room", string(roomID)).Str("router", r.id).Msg("router closed")
}

func (e *Engine) CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, dir Direction) (TransportInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.routers[roomID]; !ok {
		return TransportInfo{}, ErrUnknownRouter
	}
	t := &transport{
		id:     uuid.NewString(),
		roomID: roomID,
		peerID: peerID,
		dir:    dir,
	}
	e.transports[t.id] = t

	info := TransportInfo{
		ID: t.id,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: randomHex(8),
			Password:         randomHex(16),
			ICELite:          true,
		},
		ICECandidates: []ICECandidateInfo{
			{Foundation: "udpcandidate", IP: "0.0.0.0", Port: 40000 + len(e.transports), Protocol: "udp", Type: "host"},
		},
		DTLSParameters: webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: fingerprint()},
			},
		},
	}
	return info, nil
}

func fingerprint() string {
	raw := randomHex(32)
	parts := make([]string, 0, 32)
	for i := 0; i < len(raw); i += 2 {
		parts = append(parts, strings.ToUpper(raw[i:i+2]))
	}
	return strings.Join(parts, ":")
}

func (e *Engine) ConnectTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return ErrUnknownTransport
	}
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("%w: no fingerprints", ErrUnknownTransport)
	}
	t.connected = true
	return nil
}

func (e *Engine) CloseTransport(transportID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transports, transportID)
	for id, p := range e.producers {
		if p.transportID == transportID {
			delete(e.producers, id)
		}
	}
	for id, c := range e.consumers {
		if c.transportID == transportID {
			delete(e.consumers, id)
		}
	}
}

func (e *Engine) Produce(ctx context.Context, transportID, kind string, rtp webrtc.RTPParameters) (string, error) {
	if kind != "audio" && kind != "video" {
		return "", fmt.Errorf("%w: %q", ErrBadMediaKind, kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return "", ErrUnknownTransport
	}
	p := &producer{
		id:          uuid.NewString(),
		transportID: transportID,
		roomID:      t.roomID,
		kind:        kind,
		rtp:         rtp,
	}
	e.producers[p.id] = p
	log.Info().Str("module", "media").Str("producer", p.id).Str("kind", kind).Msg("producer created")
	return p.id, nil
}

func (e *Engine) CloseProducer(producerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, producerID)
	for id, c := range e.consumers {
		if c.producerID == producerID {
			delete(e.consumers, id)
		}
	}
}

// CanConsume reports whether the requester's capabilities overlap the
// producer's codecs. A producer with no declared codecs is consumable by
// anyone announcing a codec of the same kind.
func (e *Engine) CanConsume(producerID string, caps RTPCapabilities) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[producerID]
	if !ok {
		return false
	}
	kindPrefix := p.kind + "/"
	if len(p.rtp.Codecs) == 0 {
		for _, c := range caps.Codecs {
			if strings.HasPrefix(strings.ToLower(c.MimeType), kindPrefix) {
				return true
			}
		}
		return false
	}
	for _, pc := range p.rtp.Codecs {
		for _, cc := range caps.Codecs {
			if strings.EqualFold(pc.MimeType, cc.MimeType) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) Consume(ctx context.Context, transportID, producerID string, caps RTPCapabilities) (ConsumerInfo, error) {
	if !e.CanConsume(producerID, caps) {
		e.mu.Lock()
		_, known := e.producers[producerID]
		e.mu.Unlock()
		if !known {
			return ConsumerInfo{}, ErrUnknownProducer
		}
		return ConsumerInfo{}, ErrCannotConsume
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.transports[transportID]; !ok {
		return ConsumerInfo{}, ErrUnknownTransport
	}
	p, ok := e.producers[producerID]
	if !ok {
		return ConsumerInfo{}, ErrUnknownProducer
	}
	c := &consumer{
		id:          uuid.NewString(),
		transportID: transportID,
		producerID:  producerID,
	}
	e.consumers[c.id] = c
	return ConsumerInfo{
		ID:            c.id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: p.rtp,
	}, nil
}

func (e *Engine) CloseConsumer(consumerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.consumers, consumerID)
}
