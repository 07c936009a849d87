package notifier

import (
	"context"

	mqtt "github.com/dratasich/lakebot-functions"
)

// DeadLetter keeps messages that could not be decoded.
type DeadLetter interface {
	Publish(ctx context.Context, payload []byte) error
}

// MQTTDeadLetter republishes unchanged payloads on a topic of an already
// connected client.
type MQTTDeadLetter struct {
	client *mqtt.Client
	topic  string
}

func NewMQTTDeadLetter(client *mqtt.Client, topic string) *MQTTDeadLetter {
	return &MQTTDeadLetter{client: client, topic: topic}
}

func (d *MQTTDeadLetter) Publish(ctx context.Context, payload []byte) error {
	return d.client.Publish(ctx, d.topic, payload, nil)
}
