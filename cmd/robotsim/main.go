// Command robotsim plays the water purifier robot for local end-to-end runs:
// it logs the commands sent to its device-bound topic and queues battery
// alerts while its simulated battery is low.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/config"
	"github.com/dratasich/lakebot-functions/robot"
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
	if err := cfg.ValidateRobot(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the robot connects to the registry as itself
	deviceCfg := cfg.Device.Config
	deviceCfg.ClientID = cfg.Device.TargetID
	device := mqtt.NewClient(deviceCfg)
	device.Subscribe(mqtt.DeviceBoundTopic(cfg.Device.TargetID))

	queueCfg := cfg.Queue.Config
	queueCfg.ClientID = cfg.Device.TargetID + "-reporter"
	queue := mqtt.NewClient(queueCfg)

	for name, client := range map[string]*mqtt.Client{"device registry": device, "queue broker": queue} {
		if err := client.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msgf("Failed to start %s client", name)
		}
		connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
		err := client.AwaitConnection(connectCtx)
		cancelConnect()
		if err != nil {
			logger.Fatal().Err(err).Msgf("Failed to connect to %s", name)
		}
	}

	sim := robot.NewSimulator(cfg.Device.TargetID, cfg.Robot.LowBattery, cfg.Robot.Drain, logger)
	logger.Info().Str("device_id", cfg.Device.TargetID).Dur("report_interval", cfg.Robot.ReportInterval).Msg("Robot simulator running")
	sim.Run(ctx, device.QueueMessages, queue, cfg.Queue.Name, cfg.Robot.ReportInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	device.Disconnect(shutdownCtx)
	queue.Disconnect(shutdownCtx)
	logger.Info().Msg("Robot simulator stopped")
}
