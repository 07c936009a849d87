package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MQTT broker configuration
type Config struct {
	ServerURL string `mapstructure:"broker_url"` // MQTT server URL
	// credential of the device registry or queue broker
	Username string `mapstructure:"username"` // MQTT Username to use when connecting to server
	Password string `mapstructure:"password"` // MQTT Password to use when connecting to server

	ClientID  string `mapstructure:"client_id"`
	KeepAlive uint16 `mapstructure:"keep_alive"` // seconds between keepalive packets
}

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("mqtt client is not connected")

// Message received on a subscribed queue
type QueueMessage struct {
	// topic the broker delivered on (the queue name, without share prefix)
	Topic   string
	Payload []byte
}

type Client struct {
	config      Config
	client      *autopaho.ConnectionManager
	isConnected atomic.Bool

	// made on every connection up
	subscriptions []paho.SubscribeOptions

	// queue of messages received on subscribed topics
	QueueMessages chan *QueueMessage
}

const qos = byte(1) // qos to utilise when publishing and subscribing

const (
	// cloud-to-device topic, IoT Hub style
	deviceBoundTopic = "devices/%s/messages/devicebound"

	contentTypeJSON = "application/json"
)

func NewClient(cfg Config) *Client {
	return &Client{
		config:        cfg,
		QueueMessages: make(chan *QueueMessage, 100),
	}
}

// DeviceBoundTopic is the topic a device listens on for cloud-to-device messages.
func DeviceBoundTopic(deviceID string) string {
	return fmt.Sprintf(deviceBoundTopic, deviceID)
}

// SharedSubscription turns a topic into an MQTT v5 shared subscription so
// that consumers in the same group compete for messages like queue readers.
func SharedSubscription(group, topic string) string {
	if group == "" {
		return topic
	}
	return "$share/" + group + "/" + topic
}

// Subscribe registers a topic filter; must be called before Connect.
func (c *Client) Subscribe(topic string) {
	c.subscriptions = append(c.subscriptions, paho.SubscribeOptions{
		Topic: topic,
		QoS:   qos,
	})
}

// Connect starts the connection manager and waits for the first connection.
//
// The connection manager lives until ctx is cancelled or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.AwaitConnection(ctx)
}

// Start the connection manager without waiting; it (re)connects in the
// background until ctx is cancelled or Disconnect is called.
func (c *Client) Start(ctx context.Context) error {
	parsedURL, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return fmt.Errorf("failed to parse server URL (%s): %w", c.config.ServerURL, err)
	}

	handler := func(pr paho.PublishReceived) (bool, error) {
		msg := pr.Packet
		log.Debug().Msgf("Received message on %s: %s", msg.Topic, msg.Payload)
		select {
		case c.QueueMessages <- &QueueMessage{Topic: msg.Topic, Payload: msg.Payload}:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{parsedURL},
		KeepAlive:                     c.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info().Str("client_id", c.config.ClientID).Msg("MQTT connection up")
			c.isConnected.Store(true)
			if len(c.subscriptions) == 0 {
				return
			}
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: c.subscriptions,
			}); err != nil {
				log.Error().Msgf("Failed to subscribe: %s", err)
				return
			}
			log.Info().Msg("MQTT subscription made")
		},

		OnConnectError: func(err error) {
			log.Error().Msgf("Error whilst attempting connection: %s", err)
		},

		ClientConfig: paho.ClientConfig{
			ClientID:          c.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){handler},
			OnClientError: c.onClientError,
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.isConnected.Store(false)
				if d.Properties != nil {
					log.Error().Msgf("Server requested disconnect: %s", d.Properties.ReasonString)
				} else {
					log.Error().Msgf("Server requested disconnect with reason code: %d", d.ReasonCode)
				}
			},
		},
	}

	if c.config.Username != "" {
		cliCfg.ConnectUsername = c.config.Username
		cliCfg.ConnectPassword = []byte(c.config.Password)
	}

	log.Info().Str("server", parsedURL.Host).Msg("Connect to MQTT...")
	c.client, err = autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	return nil
}

// the connection is down until the next OnConnectionUp
func (c *Client) onClientError(err error) {
	c.isConnected.Store(false)
	log.Error().Msgf("Client error: %s", err)
}

// Wait for MQTT connection is up
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.isConnected.Load()
}

func (c *Client) Disconnect(ctx context.Context) {
	if c.client != nil {
		err := c.client.Disconnect(ctx)
		if err != nil {
			log.Error().Msgf("Failed to disconnect: %s", err)
		}
	}
	c.isConnected.Store(false)
	log.Info().Str("client_id", c.config.ClientID).Msg("Disconnected from MQTT")
}

// Publish a message to the broker
//
// blocks until the connection is up and the broker acknowledged (QoS 1)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, props *paho.PublishProperties) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("no connection to publish to %s: %w", topic, err)
	}

	resp, err := c.client.Publish(ctx, &paho.Publish{
		QoS:        qos,
		Topic:      topic,
		Payload:    payload,
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("publish to %s rejected with reason code %d", topic, resp.ReasonCode)
	}
	return nil
}

// Send a cloud-to-device message
//
// every message carries a fresh message-id user property
func (c *Client) SendToDevice(ctx context.Context, deviceID string, payload []byte) error {
	messageID := uuid.NewString()
	log.Debug().Msgf("Sending C2D message %s to %s: %s", messageID, deviceID, payload)

	err := c.Publish(ctx, DeviceBoundTopic(deviceID), payload, &paho.PublishProperties{
		ContentType: contentTypeJSON,
		User: paho.UserProperties{
			{Key: "message-id", Value: messageID},
		},
	})
	if err != nil {
		return err
	}

	log.Info().Str("device_id", deviceID).Str("message_id", messageID).Msg("Published C2D message")
	return nil
}
