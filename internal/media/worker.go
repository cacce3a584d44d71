package media

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/config"
	"github.com/mlevan/huddle/internal/domain"
)

// EngineFactory spawns a fresh worker engine.
type EngineFactory func() (*Engine, error)

// Worker supervises the engine process. A crash is fatal to every router
// the engine hosts: all media state is discarded, calls fail with
// ErrWorkerDown, and a bounded-backoff restart brings up an empty engine.
// Affected peers must rejoin from scratch.
type Worker struct {
	cfg     config.MediaConfig
	factory EngineFactory

	mu     sync.RWMutex
	engine *Engine
}

func NewWorker(cfg config.MediaConfig, factory EngineFactory) (*Worker, error) {
	if factory == nil {
		factory = NewEngine
	}
	eng, err := factory()
	if err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, factory: factory, engine: eng}, nil
}

func (w *Worker) current() (*Engine, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.engine == nil {
		return nil, ErrWorkerDown
	}
	return w.engine, nil
}

// Crash tears down the engine and kicks off the restart loop. Safe to call
// more than once; subsequent calls while down are no-ops.
func (w *Worker) Crash(cause error) {
	w.mu.Lock()
	if w.engine == nil {
		w.mu.Unlock()
		return
	}
	eng := w.engine
	w.engine = nil
	w.mu.Unlock()

	eng.Close()
	log.Error().Err(cause).Str("module", "media").Msg("worker died, all routers lost")
	go w.restart()
}

func (w *Worker) restart() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.RestartInterval

	err := backoff.Retry(func() error {
		eng, err := w.factory()
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("worker restart attempt failed")
			return err
		}
		w.mu.Lock()
		w.engine = eng
		w.mu.Unlock()
		log.Info().Str("module", "media").Msg("worker restarted")
		return nil
	}, backoff.WithMaxRetries(bo, w.cfg.MaxRestarts))
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("worker restart gave up")
	}
}

func (w *Worker) CreateOrGetRouter(ctx context.Context, roomID domain.RoomID) (RouterCapabilities, error) {
	eng, err := w.current()
	if err != nil {
		return RouterCapabilities{}, err
	}
	return eng.CreateOrGetRouter(ctx, roomID)
}

func (w *Worker) CloseRouter(roomID domain.RoomID) {
	if eng, err := w.current(); err == nil {
		eng.CloseRouter(roomID)
	}
}

func (w *Worker) CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, dir Direction) (TransportInfo, error) {
	eng, err := w.current()
	if err != nil {
		return TransportInfo{}, err
	}
	return eng.CreateTransport(ctx, roomID, peerID, dir)
}

func (w *Worker) ConnectTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error {
	eng, err := w.current()
	if err != nil {
		return err
	}
	return eng.ConnectTransport(ctx, transportID, dtls)
}

func (w *Worker) CloseTransport(transportID string) {
	if eng, err := w.current(); err == nil {
		eng.CloseTransport(transportID)
	}
}

func (w *Worker) Produce(ctx context.Context, transportID, kind string, rtp webrtc.RTPParameters) (string, error) {
	eng, err := w.current()
	if err != nil {
		return "", err
	}
	return eng.Produce(ctx, transportID, kind, rtp)
}

func (w *Worker) CloseProducer(producerID string) {
	if eng, err := w.current(); err == nil {
		eng.CloseProducer(producerID)
	}
}

func (w *Worker) CanConsume(producerID string, caps RTPCapabilities) bool {
	eng, err := w.current()
	if err != nil {
		return false
	}
	return eng.CanConsume(producerID, caps)
}

func (w *Worker) Consume(ctx context.Context, transportID, producerID string, caps RTPCapabilities) (ConsumerInfo, error) {
	eng, err := w.current()
	if err != nil {
		return ConsumerInfo{}, err
	}
	return eng.Consume(ctx, transportID, producerID, caps)
}

func (w *Worker) CloseConsumer(consumerID string) {
	if eng, err := w.current(); err == nil {
		eng.CloseConsumer(consumerID)
	}
}
