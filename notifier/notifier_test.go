package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type email struct {
	subject string
	body    string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []email
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email{subject: subject, body: body})
	return f.err
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDeadLetter struct {
	payloads [][]byte
	err      error
}

func (f *fakeDeadLetter) Publish(ctx context.Context, payload []byte) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

type panicEmail struct{}

func (panicEmail) Send(ctx context.Context, subject, body string) error {
	panic("mailer exploded")
}

const batteryMessage = `{"deviceId":"r1","batteryLevel":12,"ttimestamp":"2024-01-01T00:00:00"}`

func TestFormat(t *testing.T) {
	// arrange
	alert := events.BatteryAlert{DeviceID: "r1", BatteryLevel: "12", Timestamp: "2024-01-01T00:00:00"}

	// act
	subject, body := Format(alert)

	// assert
	assert.Equal(t, "[URGENT] Robot low battery alert - r1", subject)
	assert.Equal(t, "Robot ID: r1 (time: 2024-01-01T00:00:00)\n"+
		"Battery level is 12%. Immediate charging is required.\n\n"+
		"Please check the lake water quality management system.", body)
}

func TestFormatPlaceholders(t *testing.T) {
	alert, err := events.ParseBatteryAlert([]byte(`{}`))
	require.NoError(t, err)

	subject, body := Format(alert)

	assert.Contains(t, subject, events.Unknown)
	assert.Contains(t, body, "Robot ID: N/A (time: N/A)")
	assert.Contains(t, body, "Battery level is N/A%.")
}

func TestHandleMessageSendsOneAlert(t *testing.T) {
	// arrange
	sink := &fakeEmail{}
	n := New(sink, nil, zerolog.Nop(), nil)

	// act
	result := n.HandleMessage(context.Background(), []byte(batteryMessage))

	// assert
	assert.Equal(t, Sent, result)
	require.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0].subject, "r1")
	assert.Contains(t, sink.sent[0].body, "12")
	assert.Contains(t, sink.sent[0].body, "2024-01-01T00:00:00")
}

func TestHandleMessageEmailFailureIsSwallowed(t *testing.T) {
	// arrange
	sink := &fakeEmail{err: errors.New("smtp relay down")}
	reg := prometheus.NewRegistry()
	n := New(sink, nil, zerolog.Nop(), reg)

	// act
	result := n.HandleMessage(context.Background(), []byte(batteryMessage))

	// assert
	assert.Equal(t, SendFailed, result)
	assert.Equal(t, 1, sink.count(), "exactly one attempt")
	assert.Equal(t, float64(1), testutil.ToFloat64(n.results.WithLabelValues("send_failed")))
}

func TestHandleMessageInvalidJSON(t *testing.T) {
	sink := &fakeEmail{}
	n := New(sink, nil, zerolog.Nop(), nil)

	result := n.HandleMessage(context.Background(), []byte(`battery low!`))

	assert.Equal(t, Discarded, result)
	assert.Equal(t, 0, sink.count())
}

func TestHandleMessageDeadLetter(t *testing.T) {
	// arrange
	sink := &fakeEmail{}
	dl := &fakeDeadLetter{}
	n := New(sink, dl, zerolog.Nop(), nil)
	body := []byte(`{"deviceId": "r1", `)

	// act
	result := n.HandleMessage(context.Background(), body)

	// assert
	assert.Equal(t, DeadLettered, result)
	require.Len(t, dl.payloads, 1)
	assert.Equal(t, body, dl.payloads[0])
	assert.Equal(t, 0, sink.count())
}

func TestHandleMessageDeadLetterFailure(t *testing.T) {
	sink := &fakeEmail{}
	dl := &fakeDeadLetter{err: errors.New("broker down")}
	n := New(sink, dl, zerolog.Nop(), nil)

	result := n.HandleMessage(context.Background(), []byte(`[1,2,3]`))

	assert.Equal(t, Discarded, result)
	assert.Len(t, dl.payloads, 1)
	assert.Equal(t, 0, sink.count())
}

func TestHandleMessageValidMessageIsNotDeadLettered(t *testing.T) {
	dl := &fakeDeadLetter{}
	n := New(&fakeEmail{err: errors.New("down")}, dl, zerolog.Nop(), nil)

	n.HandleMessage(context.Background(), []byte(batteryMessage))

	assert.Empty(t, dl.payloads)
}

func TestHandleMessageRecoversPanic(t *testing.T) {
	n := New(panicEmail{}, nil, zerolog.Nop(), nil)

	var result Result
	assert.NotPanics(t, func() {
		result = n.HandleMessage(context.Background(), []byte(batteryMessage))
	})
	assert.Equal(t, Discarded, result)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "sent", Sent.String())
	assert.Equal(t, "send_failed", SendFailed.String())
	assert.Equal(t, "discarded", Discarded.String())
	assert.Equal(t, "dead_lettered", DeadLettered.String())
	assert.Equal(t, "unknown", Result(42).String())
}

func TestRunHandlesQueueInOrder(t *testing.T) {
	// arrange
	sink := &fakeEmail{}
	n := New(sink, nil, zerolog.Nop(), nil)
	queue := make(chan *mqtt.QueueMessage, 3)
	queue <- &mqtt.QueueMessage{Topic: "robot-battery-alert-queue", Payload: []byte(`{"deviceId":"a","batteryLevel":10}`)}
	queue <- &mqtt.QueueMessage{Topic: "robot-battery-alert-queue", Payload: []byte(`not json`)}
	queue <- &mqtt.QueueMessage{Topic: "robot-battery-alert-queue", Payload: []byte(`{"deviceId":"b","batteryLevel":5}`)}
	close(queue)

	// act
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), queue)
		close(done)
	}()

	// assert
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the queue was closed")
	}
	require.Len(t, sink.sent, 2)
	assert.Contains(t, sink.sent[0].subject, "- a")
	assert.Contains(t, sink.sent[1].subject, "- b")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n := New(&fakeEmail{}, nil, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.Run(ctx, make(chan *mqtt.QueueMessage))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
