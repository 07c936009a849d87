package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedMessage is returned when a queue payload is not UTF-8 JSON
// describing a battery alert.
var ErrMalformedMessage = errors.New("malformed message")

// Placeholder used for battery alert fields the robot did not report
const Unknown = "N/A"

// Battery alert published by the robot simulator
//
// example:
// `{"deviceId": "water-purifier-robot-01", "batteryLevel": 12, "ttimestamp": "2024-01-01T00:00:00"}`
//
// All fields are kept as text; numbers retain their literal JSON form and
// missing or null fields are Unknown.
type BatteryAlert struct {
	DeviceID     string
	BatteryLevel string
	// the simulator spells the key "ttimestamp"
	Timestamp string
}

// ParseBatteryAlert decodes a queue message body.
func ParseBatteryAlert(body []byte) (BatteryAlert, error) {
	alert := BatteryAlert{DeviceID: Unknown, BatteryLevel: Unknown, Timestamp: Unknown}

	if !utf8.Valid(body) {
		return alert, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedMessage)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return alert, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if decoder.More() {
		return alert, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedMessage)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return alert, fmt.Errorf("%w: expected an object, got %s", ErrMalformedMessage, jsonKind(raw))
	}

	alert.DeviceID = fieldText(fields, "deviceId")
	alert.BatteryLevel = fieldText(fields, "batteryLevel")
	alert.Timestamp = fieldText(fields, "ttimestamp")
	return alert, nil
}

func fieldText(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return Unknown
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Unknown
		}
		return string(b)
	}
}
