package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Robot command names understood by the water purifier robot
const (
	CommandAdjustPHUp     = "adjust_ph_up"
	CommandAdjustPHDown   = "adjust_ph_down"
	CommandActivateFilter = "activate_filter"
)

// Robot command sent as a cloud-to-device message
//
// example:
// `{"command": "adjust_ph_up", "target_ph": 7.0, "reason": "Water quality issue detected", "source_sensor": "s1"}`
//
// Exactly one of TargetPH and DurationMinutes is set, depending on Command.
type RobotCommand struct {
	Command string `json:"command"`

	// pH commands only
	TargetPH *PH `json:"target_ph,omitempty"`
	// filter activation only
	DurationMinutes *int `json:"duration_minutes,omitempty"`

	// both copied verbatim from the event; a nil SourceSensor is null
	Reason       json.RawMessage `json:"reason"`
	SourceSensor json.RawMessage `json:"source_sensor"`
}

// RawText renders a raw JSON value for logs: the content of a string,
// the JSON text of anything else.
func RawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// PH is a pH value that always serializes with a fractional part (7 -> 7.0).
type PH float64

func (p PH) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(p), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// ParseRobotCommand decodes a cloud-to-device payload on the robot side.
func ParseRobotCommand(payload []byte) (RobotCommand, error) {
	var cmd RobotCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	switch cmd.Command {
	case CommandAdjustPHUp, CommandAdjustPHDown:
		if cmd.TargetPH == nil {
			return cmd, fmt.Errorf("%w: %s without target_ph", ErrMalformedMessage, cmd.Command)
		}
	case CommandActivateFilter:
		if cmd.DurationMinutes == nil {
			return cmd, fmt.Errorf("%w: %s without duration_minutes", ErrMalformedMessage, cmd.Command)
		}
	default:
		return cmd, fmt.Errorf("%w: unsupported command %q", ErrMalformedMessage, cmd.Command)
	}
	return cmd, nil
}
