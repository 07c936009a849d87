// Command cmdhandler hosts the HTTP function that turns analytics output into
// robot commands.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dratasich/lakebot-functions/config"
	"github.com/dratasich/lakebot-functions/dispatcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger, err := cfg.SetupLogging(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	if err := cfg.ValidateDispatcher(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink := dispatcher.NewMQTTSink(cfg.Device.Config, cfg.Device.SessionTimeout)
	d := dispatcher.New(sink, cfg.Device.TargetID, logger, dispatcher.NewMetrics(reg))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           dispatcher.NewRouter(d, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.HTTP.Addr).Str("route", dispatcher.FunctionRoute).Msg("Starting command handler")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down command handler...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during HTTP server shutdown")
	}
	logger.Info().Msg("Command handler stopped")
}
