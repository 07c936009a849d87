// Command batteryalert consumes robot battery alerts from the queue and sends
// them as email notifications.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/config"
	"github.com/dratasich/lakebot-functions/notifier"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	if err := cfg.ValidateNotifier(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	client := mqtt.NewClient(cfg.Queue.Config)
	client.Subscribe(mqtt.SharedSubscription(cfg.Queue.Group, cfg.Queue.Name))

	if err := client.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start queue client")
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	err = client.AwaitConnection(connectCtx)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to queue broker")
	}

	var deadLetter notifier.DeadLetter
	if cfg.Queue.DeadLetterTopic != "" {
		deadLetter = notifier.NewMQTTDeadLetter(client, cfg.Queue.DeadLetterTopic)
	}
	n := notifier.New(notifier.NewSMTPSender(cfg.Email), deadLetter, logger, reg)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !client.IsConnected() {
			http.Error(w, "queue disconnected", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Health check server failed")
		}
	}()

	logger.Info().Str("queue", cfg.Queue.Name).Str("group", cfg.Queue.Group).Msg("Consuming battery alerts")
	n.Run(ctx, client.QueueMessages)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Disconnect(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during health check server shutdown")
	}
	logger.Info().Msg("Battery alert consumer stopped")
}
