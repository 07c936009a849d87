// Package robot simulates the water purifier robot: it applies the commands
// it receives on its device-bound topic and reports a low battery to the
// alert queue.
package robot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/events"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
)

// timestamp layout of battery reports, e.g. 2024-01-01T00:00:00
const timestampLayout = "2006-01-02T15:04:05"

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, props *paho.PublishProperties) error
}

// battery alert as expected by the battery alert consumer
type batteryReport struct {
	DeviceID     string `json:"deviceId"`
	BatteryLevel int    `json:"batteryLevel"`
	Timestamp    string `json:"ttimestamp"`
}

type Simulator struct {
	deviceID   string
	lowBattery int
	drain      int
	logger     zerolog.Logger

	mu      sync.Mutex
	battery int
	applied []events.RobotCommand
}

// NewSimulator returns a robot with a full battery.
func NewSimulator(deviceID string, lowBattery, drain int, logger zerolog.Logger) *Simulator {
	return &Simulator{
		deviceID:   deviceID,
		lowBattery: lowBattery,
		drain:      drain,
		logger:     logger.With().Str("function", "RobotSimulator").Str("device_id", deviceID).Logger(),
		battery:    100,
	}
}

func (s *Simulator) Battery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// Applied returns the commands applied so far, oldest first.
func (s *Simulator) Applied() []events.RobotCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.RobotCommand(nil), s.applied...)
}

// HandleCommand applies one cloud-to-device payload.
func (s *Simulator) HandleCommand(payload []byte) error {
	cmd, err := events.ParseRobotCommand(payload)
	if err != nil {
		return err
	}

	e := s.logger.Info().
		Str("command", cmd.Command).
		Str("reason", events.RawText(cmd.Reason)).
		Str("source_sensor", events.RawText(cmd.SourceSensor))
	switch {
	case cmd.TargetPH != nil:
		e.Float64("target_ph", float64(*cmd.TargetPH)).Msg("Adjusting pH")
	case cmd.DurationMinutes != nil:
		e.Int("duration_minutes", *cmd.DurationMinutes).Msg("Activating filter")
	default:
		e.Msg("Applying command")
	}

	s.mu.Lock()
	s.applied = append(s.applied, cmd)
	s.mu.Unlock()
	return nil
}

// Tick drains the battery by one step and returns an alert payload if the
// level fell below the low battery threshold. An empty battery is recharged.
func (s *Simulator) Tick(now time.Time) ([]byte, bool, error) {
	s.mu.Lock()
	s.battery -= s.drain
	if s.battery <= 0 {
		s.logger.Info().Msg("Battery empty, recharging")
		s.battery = 100
	}
	level := s.battery
	s.mu.Unlock()

	if level >= s.lowBattery {
		return nil, false, nil
	}
	payload, err := json.Marshal(batteryReport{
		DeviceID:     s.deviceID,
		BatteryLevel: level,
		Timestamp:    now.UTC().Format(timestampLayout),
	})
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Run applies commands and reports the battery every interval until ctx is
// done or the command channel is closed.
func (s *Simulator) Run(ctx context.Context, commands <-chan *mqtt.QueueMessage, queue Publisher, queueName string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-commands:
			if !ok {
				return
			}
			if err := s.HandleCommand(msg.Payload); err != nil {
				s.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Ignoring command")
			}
		case now := <-ticker.C:
			payload, low, err := s.Tick(now)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode battery report")
				continue
			}
			if !low {
				continue
			}
			if err := queue.Publish(ctx, queueName, payload, nil); err != nil {
				s.logger.Error().Err(err).Msg("Failed to queue battery alert")
				continue
			}
			s.logger.Warn().Int("battery_level", s.Battery()).Msg("Queued low battery alert")
		}
	}
}
