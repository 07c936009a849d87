// Package dispatcher turns analytics output into robot commands and submits
// them to the device channel.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/dratasich/lakebot-functions/commands"
	"github.com/dratasich/lakebot-functions/events"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ErrInternalFault wraps anything unexpected that aborted a dispatch.
var ErrInternalFault = errors.New("internal fault")

const maxBodyBytes = 1 << 20

// Response texts
const (
	msgProcessed  = "Successfully processed Stream Analytics output."
	msgBadRequest = "Invalid JSON in request body."
	msgFault      = "An error occurred: "
)

type Dispatcher struct {
	sink     DeviceSink
	deviceID string
	logger   zerolog.Logger
	metrics  *Metrics
}

// New returns a dispatcher that sends every command to deviceID through sink.
// metrics may be nil.
func New(sink DeviceSink, deviceID string, logger zerolog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		deviceID: deviceID,
		logger:   logger.With().Str("function", "CmdHandler").Logger(),
		metrics:  metrics,
	}
}

// Dispatch parses body and submits one command per recognized record, in
// order, waiting for each submission before the next.
//
// Delivery failures are reported in the Summary, never as an error. The
// error is either events.ErrMalformedInput (nothing was processed) or
// ErrInternalFault.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) (summary Summary, err error) {
	logger := d.loggerFor(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic while dispatching")
			err = fmt.Errorf("%w: %v", ErrInternalFault, r)
		}
	}()

	logger.Debug().Bytes("body", body).Msg("Received data from analytics")

	evs, err := events.ParseAnomalyEvents(body)
	if err != nil {
		return summary, err
	}
	summary.Records = len(evs)
	if len(evs) == 0 {
		logger.Info().Msg("No records, nothing to do")
		return summary, nil
	}

	for i, ev := range evs {
		cmd, ok := commands.Map(ev)
		d.metrics.record(ok)
		if !ok {
			logger.Info().Int("record", i).Str("command_type", ev.CommandType).Msg("No command for this event")
			continue
		}

		payload, err := json.Marshal(cmd)
		if err != nil {
			return summary, fmt.Errorf("%w: encode command: %s", ErrInternalFault, err)
		}

		logger.Info().Int("record", i).Str("device_id", d.deviceID).RawJSON("command", payload).Msg("Sending command to robot")
		outcome := Outcome{Command: cmd, Err: d.sink.Send(ctx, d.deviceID, payload)}
		if outcome.Err != nil {
			logger.Error().Err(outcome.Err).Int("record", i).Str("device_id", d.deviceID).Msg("Failed to send C2D message")
		}
		d.metrics.command(outcome)
		summary.add(outcome)
	}

	logger.Info().
		Int("records", summary.Records).
		Int("commands", summary.Commands).
		Int("delivered", summary.Delivered).
		Int("failed", summary.Failed).
		Msg("Processed analytics output")
	return summary, nil
}

// ServeHTTP answers 200 whenever the body could be dispatched, even if
// every delivery failed.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := d.loggerFor(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read request body")
		d.respond(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	_, err = d.Dispatch(r.Context(), body)
	switch {
	case err == nil:
		d.respond(w, http.StatusOK, msgProcessed)
	case errors.Is(err, events.ErrMalformedInput):
		logger.Warn().Err(err).Msg("Rejected request body")
		d.respond(w, http.StatusBadRequest, msgBadRequest)
	default:
		logger.Error().Err(err).Msg("Error processing request")
		d.respond(w, http.StatusInternalServerError, msgFault+err.Error())
	}
}

func (d *Dispatcher) respond(w http.ResponseWriter, code int, msg string) {
	d.metrics.response(code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}

func (d *Dispatcher) loggerFor(ctx context.Context) zerolog.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return d.logger.With().Str("request_id", id).Logger()
	}
	return d.logger
}
