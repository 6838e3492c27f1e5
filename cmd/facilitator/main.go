// Command facilitator runs the x402 payment facilitator as a standalone
// HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gaslift/facilitator/internal/config"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/pkg/gaslift"
)

func main() {
	// Local development convenience; env vars always win over the file.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("FACILITATOR_CONFIG"), "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Config{Service: "gaslift-facilitator"})
		bootLog.Fatal().Err(err).Msg("main.config_load_failed")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "gaslift-facilitator",
		Environment: cfg.Logging.Environment,
	})

	app, err := gaslift.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("main.wiring_failed")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("route_prefix", cfg.Server.RoutePrefix).
			Msg("main.listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("main.shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("main.serve_failed")
		}
	}

	// In-flight settlements run on detached contexts; the shutdown window
	// only has to cover response writing.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("main.shutdown_failed")
	}

	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("main.close_failed")
	}
	log.Info().Msg("main.stopped")
}
