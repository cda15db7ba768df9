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

	"github.com/avelov/meetspace/internal/adapters/engine"
	router "github.com/avelov/meetspace/internal/adapters/http"
	"github.com/avelov/meetspace/internal/app"
	"github.com/avelov/meetspace/internal/app/orch"
	"github.com/avelov/meetspace/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	driver := engine.NewPion(engine.Config{
		RTCMinPort:  cfg.Engine.RTCMinPort,
		RTCMaxPort:  cfg.Engine.RTCMaxPort,
		STUNServers: cfg.Engine.STUNServers,
	})
	media := engine.New(driver, cfg.Engine.CallTimeout)
	// Media degrades gracefully when the engine never comes up;
	// rooms and chat keep working.
	if err := media.Init(ctx); err != nil {
		log.Error().Err(err).Msg("media engine init failed, continuing without media")
	}

	registry := app.NewRegistry()
	rooms := app.NewRoomManager()
	cast := &app.Broadcaster{Registry: registry, Rooms: rooms}
	state := app.NewMediaState(media)

	o := &orch.Orchestrator{
		Registry: registry,
		Rooms:    rooms,
		Media:    state,
		Cast:     cast,
		Policy:   app.SimplePolicy{},
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meetspace server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	// A dead engine cannot be rebuilt in place: router state is gone.
	// Exit and let the supervisor restart us.
	go func() {
		<-media.Dead()
		log.Fatal().Msg("media engine died, exiting for supervisor restart")
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
