// Package commands maps anomaly classifications to robot commands.
package commands

import (
	"encoding/json"

	"github.com/dratasich/lakebot-functions/events"
)

// DefaultReason is used when an event carries no reason_message.
const DefaultReason = "Water quality issue detected"

var defaultReason = json.RawMessage(`"` + DefaultReason + `"`)

// pH targets of the adjust commands
const (
	TargetPHUp   events.PH = 7.0
	TargetPHDown events.PH = 7.5
)

// FilterDurationMinutes is how long activate_filter runs the filter.
const FilterDurationMinutes = 60

// Map returns the command for a single event, or false if the event's
// command_type is not one the robot supports. Matching is exact and case
// sensitive. reason_message (null included) and sensor_id are carried over
// as sent.
func Map(ev events.AnomalyEvent) (*events.RobotCommand, bool) {
	cmd := &events.RobotCommand{
		Command:      ev.CommandType,
		Reason:       defaultReason,
		SourceSensor: ev.SensorID,
	}
	if ev.ReasonMessage != nil {
		cmd.Reason = ev.ReasonMessage
	}

	switch ev.CommandType {
	case events.CommandAdjustPHUp:
		target := TargetPHUp
		cmd.TargetPH = &target
	case events.CommandAdjustPHDown:
		target := TargetPHDown
		cmd.TargetPH = &target
	case events.CommandActivateFilter:
		minutes := FilterDurationMinutes
		cmd.DurationMinutes = &minutes
	default:
		return nil, false
	}
	return cmd, true
}
