// Package service provides the core publication pipeline of the Hi-Therma bridge.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotragit/Hi-Therma/internal/api"
	"github.com/rotragit/Hi-Therma/internal/config"
	"github.com/rotragit/Hi-Therma/internal/domain"
	"github.com/rotragit/Hi-Therma/internal/format"
	"github.com/rotragit/Hi-Therma/internal/hnet"
	"github.com/rotragit/Hi-Therma/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// connectNotifier is implemented by transports that can report successful
// (re)connections. Discovery announcement and availability publication hook
// in here so they repeat on every reconnect.
type connectNotifier interface {
	SetOnConnect(func())
}

// connectionReporter is implemented by transports that expose their link state.
type connectionReporter interface {
	IsConnected() bool
}

// Bridge wires the H-NET decoder between the raw-frame subscription and the
// per-measurement publication topics.
type Bridge struct {
	config    *config.Config
	decoder   *hnet.Decoder
	formatter *format.Formatter
	discovery *homeassistant.AutoDiscovery
	publisher domain.MessagePublisher
	archiver  domain.FrameArchiver
	registry  *domain.StatsRegistry
	apiServer *api.Server
	logger    zerolog.Logger

	mu sync.Mutex
	// announced records every entity registered in this process lifetime.
	// It is intentionally never consulted: registration is retained and
	// idempotent, so each (re)connect announces the full catalog again.
	announced map[string]struct{}
}

// NewBridge creates the publication pipeline.
func NewBridge(cfg *config.Config, publisher domain.MessagePublisher, archiver domain.FrameArchiver) (*Bridge, error) {
	if archiver == nil {
		archiver = domain.NoopArchiver{}
	}

	bridge := &Bridge{
		config: cfg,
		decoder: hnet.NewDecoder(
			cfg.HNet.IndoorControllerAddr,
			cfg.HNet.OutdoorUnitAddr,
			cfg.HNet.InvalidSensorValue,
		),
		formatter: format.New(cfg.HomeAssistant.DiscoveryEnabled),
		publisher: publisher,
		archiver:  archiver,
		registry:  domain.NewStatsRegistry(),
		logger:    log.With().Str("component", "bridge").Logger(),
		announced: make(map[string]struct{}),
	}

	if cfg.HomeAssistant.DiscoveryEnabled {
		discovery, err := homeassistant.New(homeassistant.Config{
			DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			DeviceID:        cfg.HomeAssistant.DeviceID,
			DeviceName:      cfg.HomeAssistant.DeviceName,
			Manufacturer:    cfg.HomeAssistant.Manufacturer,
			Model:           cfg.HomeAssistant.Model,
			SwVersion:       cfg.HomeAssistant.SwVersion,
			PublishPrefix:   cfg.MQTT.PublishPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize discovery catalog: %w", err)
		}
		bridge.discovery = discovery
	}

	if cfg.API.Enabled {
		bridge.apiServer = api.NewServer(cfg, bridge.registry, bridge)
	}

	return bridge, nil
}

// Registry exposes the stats registry (used by tests and the API server).
func (b *Bridge) Registry() *domain.StatsRegistry { return b.registry }

// Start connects the transport, subscribes to the raw-frame topic and
// announces the bridge. It blocks until the broker connection is up or ctx
// is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if b.apiServer != nil {
		if err := b.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	// Register the subscription before connecting so it is installed (and
	// re-installed) by the connect handler.
	if err := b.publisher.Subscribe(b.config.MQTT.InputTopic, func(topic string, payload []byte) {
		b.handleMessage(ctx, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to input topic: %w", err)
	}

	notifier, hasNotifier := b.publisher.(connectNotifier)
	if hasNotifier {
		notifier.SetOnConnect(func() { b.announce(ctx) })
	}

	if err := b.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	if !hasNotifier {
		b.announce(ctx)
	}

	b.logger.Info().
		Str("input_topic", b.config.MQTT.InputTopic).
		Str("publish_prefix", b.config.MQTT.PublishPrefix).
		Msg("Bridge started")

	return nil
}

// Stop publishes the offline availability marker and releases the transport.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping bridge")

	if err := b.publisher.Publish(ctx, b.availabilityTopic(), []byte("offline"), true); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish offline availability")
	}
	// Brief grace pause so the offline marker leaves the socket before
	// disconnect.
	time.Sleep(100 * time.Millisecond)

	if err := b.publisher.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Failed to close message publisher")
	}

	if b.apiServer != nil {
		if err := b.apiServer.Stop(ctx); err != nil {
			b.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	return nil
}

// Status implements api.StatusSource.
func (b *Bridge) Status() map[string]interface{} {
	b.mu.Lock()
	announced := len(b.announced)
	b.mu.Unlock()

	connected := true
	if reporter, ok := b.publisher.(connectionReporter); ok {
		connected = reporter.IsConnected()
	}

	return map[string]interface{}{
		"mqtt_connected":     connected,
		"input_topic":        b.config.MQTT.InputTopic,
		"announced_entities": announced,
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.config.MQTT.PublishPrefix + "/availability"
}

// announce publishes the discovery catalog and the online availability
// marker. Runs on every successful (re)connection.
func (b *Bridge) announce(ctx context.Context) {
	if b.discovery != nil {
		b.logger.Info().Msg("Publishing Home Assistant discovery registrations")

		registrations, err := b.discovery.Registrations()
		if err != nil {
			b.logger.Error().Err(err).Msg("Failed to render discovery registrations")
		} else {
			published := 0
			for _, registration := range registrations {
				if err := b.publisher.Publish(ctx, registration.Topic, registration.Payload, true); err != nil {
					b.logger.Error().
						Err(err).
						Str("topic", registration.Topic).
						Msg("Failed to publish discovery registration")
					continue
				}
				b.mu.Lock()
				b.announced[registration.EntityID] = struct{}{}
				b.mu.Unlock()
				published++
			}
			b.logger.Info().Int("count", published).Msg("Discovery registrations published")
		}
	}

	if err := b.publisher.Publish(ctx, b.availabilityTopic(), []byte("online"), true); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish online availability")
	}
}

// handleMessage processes one inbound raw-frame message.
func (b *Bridge) handleMessage(ctx context.Context, payload []byte) {
	frame, err := hnet.ParsePayload(payload)
	if err != nil {
		b.registry.RecordMalformed()
		b.logger.Warn().Err(err).Msg("Unrecognized payload format")
		return
	}

	result := b.decoder.Dispatch(frame)

	if b.config.Debug.SaveUnknownFrames {
		for _, reason := range result.ArchiveReasons {
			if err := b.archiver.Archive(frame, reason); err != nil {
				b.logger.Error().Err(err).Str("reason", reason).Msg("Failed to archive frame")
			}
		}
	}

	if result.HasOpcode {
		b.registry.RecordFrame(result.Device, frame.SourceAddress(), result.Opcode, result.ChecksumOK)
		for _, reason := range result.ArchiveReasons {
			if strings.HasPrefix(reason, "unknown_opcode") {
				b.registry.RecordUnknownOpcode()
			}
		}
	}

	for _, reading := range result.Readings {
		b.publishReading(ctx, reading)
	}

	if result.Decoded {
		b.publishReading(ctx, domain.Reading{Topic: result.Device + "/status", Value: "online"})
	}

	if b.config.Debug.PrintRawFrames {
		b.logger.Trace().Str("raw", frame.Hex()).Msg("Raw frame")
	}
}

// publishReading renders and publishes a single reading plus its attributes
// record. Publish failures are logged per topic and never abort the frame.
func (b *Bridge) publishReading(ctx context.Context, reading domain.Reading) {
	payload, attributes, err := b.formatter.Format(reading)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", reading.Topic).Msg("Failed to format reading")
		return
	}

	fullTopic := fmt.Sprintf("%s/%s", b.config.MQTT.PublishPrefix, reading.Topic)

	if err := b.publisher.Publish(ctx, fullTopic, payload, b.config.MQTT.Retain); err != nil {
		b.logger.Error().Err(err).Str("topic", fullTopic).Msg("Failed to publish value")
		return
	}

	b.logger.Debug().
		Str("topic", fullTopic).
		Str("value", string(payload)).
		Str("unit", reading.Unit).
		Msg("Published")

	if attributes != nil {
		// Attributes are best-effort and never retained.
		if err := b.publisher.Publish(ctx, fullTopic+"/attributes", attributes, false); err != nil {
			b.logger.Debug().Err(err).Str("topic", fullTopic+"/attributes").Msg("Failed to publish attributes")
		}
	}
}
