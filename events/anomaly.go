package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// ErrMalformedInput is returned when a request body is absent, not JSON,
// or not shaped like anomaly event records.
var ErrMalformedInput = errors.New("malformed input")

// Anomaly event record as emitted by the analytics engine
//
// example:
// `{"command_type": "adjust_ph_up", "sensor_id": "ph-01", "reason_message": "pH below 6.5"}`
type AnomalyEvent struct {
	// Classification of the detected condition; only a closed set of values
	// maps to a robot command. Empty if absent or not a string.
	CommandType string `json:"command_type"`
	// Originating sensor as sent, nil if omitted
	SensorID json.RawMessage `json:"sensor_id"`
	// Reason as sent, nil if omitted
	ReasonMessage json.RawMessage `json:"reason_message"`
}

// ParseAnomalyEvents normalizes a request body into an ordered list of records.
//
// The body may be a single object or an array of objects. `null` and `[]`
// yield an empty list and no error. Anything else fails with
// ErrMalformedInput before a single record is returned.
func ParseAnomalyEvents(body []byte) ([]AnomalyEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedInput)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedInput, err)
	}
	raw = bytes.TrimSpace(raw)

	var records []json.RawMessage
	switch raw[0] {
	case 'n':
		return nil, nil
	case '{':
		records = []json.RawMessage{raw}
	case '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedInput, err)
		}
		for i, item := range records {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				return nil, fmt.Errorf("%w: element %d is %s, not an object", ErrMalformedInput, i, rawKind(item))
			}
		}
	default:
		return nil, fmt.Errorf("%w: expected an object or an array of objects, got %s", ErrMalformedInput, rawKind(raw))
	}

	parsed := make([]AnomalyEvent, 0, len(records))
	for i, record := range records {
		ev, err := decodeAnomalyEvent(record)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %s", ErrMalformedInput, i, err)
		}
		parsed = append(parsed, ev)
	}
	return parsed, nil
}

// sensor_id and reason_message stay raw so that they are forwarded exactly
// as the engine sent them
func decodeAnomalyEvent(record json.RawMessage) (AnomalyEvent, error) {
	var ev AnomalyEvent
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return ev, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		DecodeHook: rawToString,
		Result:     &ev,
	})
	if err != nil {
		return ev, err
	}
	if err := decoder.Decode(fields); err != nil {
		return ev, err
	}
	return ev, nil
}

// a raw value decoded into a string field is the JSON string's content, or
// empty if the value is not a JSON string
func rawToString(from, to reflect.Type, data any) (any, error) {
	if from != reflect.TypeOf(json.RawMessage(nil)) || to.Kind() != reflect.String {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data.(json.RawMessage), &s); err != nil {
		return "", nil
	}
	return s, nil
}

// kind of a raw JSON value, judged by its first byte
func rawKind(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "empty"
	}
	switch raw[0] {
	case 'n':
		return "null"
	case 't', 'f':
		return "a boolean"
	case '"':
		return "a string"
	case '[':
		return "an array"
	case '{':
		return "an object"
	default:
		return "a number"
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case float64, json.Number:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
