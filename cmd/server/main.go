package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/vitalink/telecare/internal/adapters/http"
	"github.com/vitalink/telecare/internal/config"
	"github.com/vitalink/telecare/internal/core"
	"github.com/vitalink/telecare/internal/identity"
	"github.com/vitalink/telecare/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := storage.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect consultation database")
	}
	defer db.Close()

	verifier, err := identity.NewVerifier(cfg.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token verifier")
	}

	sink := storage.NewSinkWorker(storage.NewConsultationStore(db), cfg.SinkBuffer)
	hub := core.NewHub(sink)
	go sink.Run(ctx)
	go hub.Run(ctx)

	r := router.SetupRouter(ctx, cfg, hub, verifier, db)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("telecare session server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// The sink is still flushing queued appends; the pool must outlive it.
	<-sink.Done()
	log.Info().Msg("Server exited gracefully")
}
