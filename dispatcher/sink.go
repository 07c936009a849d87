package dispatcher

import (
	"context"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/events"
	"github.com/google/uuid"
)

// DeviceSink delivers one serialized command to one device. Implementations
// make exactly one attempt.
type DeviceSink interface {
	Send(ctx context.Context, deviceID string, payload []byte) error
}

// Outcome of delivering one command
type Outcome struct {
	Command *events.RobotCommand
	// nil when delivered
	Err error
}

func (o Outcome) Delivered() bool {
	return o.Err == nil
}

// Summary of one dispatch invocation
type Summary struct {
	// records in the request
	Records int
	// records that produced a command
	Commands  int
	Delivered int
	Failed    int

	Outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.Commands++
	if o.Delivered() {
		s.Delivered++
	} else {
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

const disconnectTimeout = 2 * time.Second

// MQTTSink opens a fresh broker session per Send and closes it afterwards,
// whatever the outcome.
type MQTTSink struct {
	config         mqtt.Config
	sessionTimeout time.Duration
}

// NewMQTTSink returns a sink whose sessions (connect and publish) are bounded
// by sessionTimeout.
func NewMQTTSink(cfg mqtt.Config, sessionTimeout time.Duration) *MQTTSink {
	return &MQTTSink{config: cfg, sessionTimeout: sessionTimeout}
}

func (s *MQTTSink) Send(ctx context.Context, deviceID string, payload []byte) error {
	sessionCtx, cancel := context.WithTimeout(ctx, s.sessionTimeout)
	defer cancel()

	cfg := s.config
	cfg.ClientID = sessionClientID(cfg.ClientID)
	client := mqtt.NewClient(cfg)
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		client.Disconnect(disconnectCtx)
	}()

	if err := client.Connect(sessionCtx); err != nil {
		return err
	}
	return client.SendToDevice(sessionCtx, deviceID, payload)
}

// client ids must be unique across concurrent sessions
func sessionClientID(prefix string) string {
	suffix := uuid.NewString()[:8]
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}
