package notifier

import (
	"context"
	"runtime/debug"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Result of handling one queue message. Every result acknowledges the
// message; none is retried.
type Result int

const (
	Sent Result = iota
	SendFailed
	Discarded
	DeadLettered
)

func (r Result) String() string {
	switch r {
	case Sent:
		return "sent"
	case SendFailed:
		return "send_failed"
	case Discarded:
		return "discarded"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

type Notifier struct {
	email      EmailSink
	deadLetter DeadLetter
	logger     zerolog.Logger
	results    *prometheus.CounterVec
}

// New returns a notifier sending through email. deadLetter and reg may be
// nil; without a dead letter malformed messages are dropped.
func New(email EmailSink, deadLetter DeadLetter, logger zerolog.Logger, reg prometheus.Registerer) *Notifier {
	n := &Notifier{
		email:      email,
		deadLetter: deadLetter,
		logger:     logger.With().Str("function", "SendBatteryAlertEmail").Logger(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lakebot",
			Subsystem: "notifier",
			Name:      "messages_total",
			Help:      "Battery alert queue messages handled, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(n.results)
	}
	return n
}

// HandleMessage formats and emails one battery alert. It never panics and
// never returns an error: all failures are logged and reflected in the
// Result.
func (n *Notifier) HandleMessage(ctx context.Context, body []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Error processing queue message")
			result = Discarded
		}
		n.results.WithLabelValues(result.String()).Inc()
	}()

	n.logger.Info().Msg("Queue trigger processed message")
	n.logger.Debug().Bytes("body", body).Msg("Received message body")

	alert, err := events.ParseBatteryAlert(body)
	if err != nil {
		n.logger.Error().Err(err).Bytes("body", body).Msg("Invalid message format")
		return n.reject(ctx, body)
	}

	subject, text := Format(alert)
	n.logger.Warn().Str("subject", subject).Str("content", text).Msg("Sending email alert")

	if err := n.email.Send(ctx, subject, text); err != nil {
		n.logger.Error().Err(err).Str("device_id", alert.DeviceID).Msg("Error sending email")
		return SendFailed
	}
	n.logger.Info().Str("device_id", alert.DeviceID).Msg("Email sent")
	return Sent
}

func (n *Notifier) reject(ctx context.Context, body []byte) Result {
	if n.deadLetter == nil {
		return Discarded
	}
	if err := n.deadLetter.Publish(ctx, body); err != nil {
		n.logger.Error().Err(err).Msg("Failed to dead-letter message, dropping it")
		return Discarded
	}
	n.logger.Info().Msg("Moved message to dead letter")
	return DeadLettered
}

// Run handles messages one at a time until ctx is done or messages is
// closed.
func (n *Notifier) Run(ctx context.Context, messages <-chan *mqtt.QueueMessage) {
	for {
		select {
		case <-ctx.Done():
			n.logger.Info().Msg("Stopping battery alert consumer")
			return
		case msg, ok := <-messages:
			if !ok {
				n.logger.Info().Msg("Queue closed, stopping battery alert consumer")
				return
			}
			n.HandleMessage(ctx, msg.Payload)
		}
	}
}
