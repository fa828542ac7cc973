// Package pubsub provides implementations of the MQTT transport.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotragit/Hi-Therma/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error { return nil }

// Subscribe is a no-op for the NoopPublisher.
func (p *NoopPublisher) Subscribe(_ string, _ func(string, []byte)) error { return nil }

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ []byte, _ bool) error { return nil }

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error { return nil }

// MQTTClient implements the MessagePublisher interface over a paho client.
// A single broker connection carries both the raw-frame subscription and all
// outbound publications.
type MQTTClient struct {
	config        *config.Config
	client        mqtt.Client
	clientFactory func(*config.Config, mqtt.OnConnectHandler, mqtt.ConnectionLostHandler) mqtt.Client
	logger        zerolog.Logger

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]func(topic string, payload []byte)
	onConnect     func()
}

// NewMQTTClient creates a new MQTT client for the configured broker.
func NewMQTTClient(cfg *config.Config) *MQTTClient {
	return &MQTTClient{
		config:        cfg,
		clientFactory: createMQTTClient,
		logger:        log.With().Str("component", "mqtt").Logger(),
		subscriptions: make(map[string]func(string, []byte)),
	}
}

// NewMQTTClientWithClient creates a client wrapping a custom paho client (for testing).
func NewMQTTClientWithClient(cfg *config.Config, client mqtt.Client) *MQTTClient {
	c := NewMQTTClient(cfg)
	c.client = client
	return c
}

// createMQTTClient is the default factory function for paho clients.
func createMQTTClient(cfg *config.Config, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("hi-therma-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(time.Duration(cfg.MQTT.KeepAlive) * time.Second).
		SetCleanSession(false).
		SetOrderMatters(true).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(onLost)

	// Set credentials if provided
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// SetOnConnect registers a callback invoked after every successful
// (re)connection, once subscriptions are restored. Must be called before
// Connect.
func (c *MQTTClient) SetOnConnect(fn func()) {
	c.onConnect = fn
}

// Connect establishes the broker connection, retrying with the configured
// delay until it succeeds or the context is cancelled.
func (c *MQTTClient) Connect(ctx context.Context) error {
	if c.client == nil {
		c.client = c.clientFactory(c.config, c.handleConnect, c.handleConnectionLost)
	}

	delay := time.Duration(c.config.MQTT.ReconnectDelay) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for {
		token := c.client.Connect()

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect cancelled: %w", ctx.Err())
		case <-token.Done():
		}

		if token.Error() == nil {
			return nil
		}

		c.logger.Error().
			Err(token.Error()).
			Dur("retry_in", delay).
			Msg("Failed to connect to MQTT broker")

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// handleConnect is called by paho on every established connection.
func (c *MQTTClient) handleConnect(client mqtt.Client) {
	c.logger.Info().
		Str("broker", c.config.MQTT.Broker).
		Int("port", c.config.MQTT.Port).
		Msg("MQTT connection established")

	c.mu.Lock()
	c.connected = true
	subscriptions := make(map[string]func(string, []byte), len(c.subscriptions))
	for topic, handler := range c.subscriptions {
		subscriptions[topic] = handler
	}
	onConnect := c.onConnect
	c.mu.Unlock()

	// Restore subscriptions after a reconnect.
	for topic, handler := range subscriptions {
		c.subscribe(client, topic, handler)
	}

	if onConnect != nil {
		onConnect()
	}
}

// handleConnectionLost is called by paho when the connection drops.
func (c *MQTTClient) handleConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// Subscribe registers a handler for a topic and subscribes if connected.
// The subscription is replayed automatically after reconnects.
func (c *MQTTClient) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	connected := c.connected
	c.mu.Unlock()

	if connected {
		return c.subscribe(c.client, topic, handler)
	}
	return nil
}

func (c *MQTTClient) subscribe(client mqtt.Client, topic string, handler func(string, []byte)) error {
	token := client.Subscribe(topic, c.config.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe")
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}

	c.logger.Info().Str("topic", topic).Msg("Subscribed")
	return nil
}

// Publish sends a payload to a topic with the configured QoS.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := c.client.Publish(topic, c.config.MQTT.QoS, retained, payload)

	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish to %s timed out", topic)
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
		}
	}

	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close terminates the connection to the MQTT broker.
func (c *MQTTClient) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}
