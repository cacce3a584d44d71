package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/auth"
	"github.com/mlevan/huddle/internal/config"
	"github.com/mlevan/huddle/internal/directory"
	"github.com/mlevan/huddle/internal/media"
	"github.com/mlevan/huddle/internal/orch"
	"github.com/mlevan/huddle/internal/registry"
	"github.com/mlevan/huddle/internal/signal"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret must be configured")
	}

	dir := directory.NewRedis(cfg.Redis)
	defer dir.Close()
	if err := dir.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("room directory unreachable")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("room directory connected")

	worker, err := media.NewWorker(cfg.Media, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media worker")
	}

	reg := registry.New()
	orchestrator := orch.New(worker)
	controller := signal.NewController(reg, dir, orchestrator)

	router := signal.NewRouter()
	controller.Register(router)

	verifier := auth.NewVerifier(cfg.Secret)
	gateway := signal.NewGateway(cfg, verifier, router)

	r := signal.SetupRouter(ctx, cfg, gateway)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	gateway.Shutdown(cfg.ShutdownGrace)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
