// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/entities.yaml
var entityCatalogYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	DiscoveryPrefix string
	DeviceID        string
	DeviceName      string
	Manufacturer    string
	Model           string
	SwVersion       string
	PublishPrefix   string
}

// Entity is one row of the discovery catalog.
type Entity struct {
	Domain      string `yaml:"domain"`
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Unit        string `yaml:"unit,omitempty"`
	DeviceClass string `yaml:"device_class,omitempty"`
	Icon        string `yaml:"icon,omitempty"`
}

// catalog is the embedded entity table.
type catalog struct {
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Entities    []Entity `yaml:"entities"`
}

// DeviceInfo is the shared device descriptor referenced by every
// registration payload.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery payload.
type DiscoveryMessage struct {
	UniqueID            string     `json:"unique_id"`
	Name                string     `json:"name"`
	StateTopic          string     `json:"state_topic"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	PayloadOn           string     `json:"payload_on,omitempty"`
	PayloadOff          string     `json:"payload_off,omitempty"`
	JSONAttributesTopic string     `json:"json_attributes_topic"`
}

// Registration pairs a discovery topic with its rendered payload.
type Registration struct {
	EntityID string
	Topic    string
	Payload  []byte
}

// AutoDiscovery renders the catalog into registration messages. Rendering is
// pure: repeated calls produce byte-identical payloads.
type AutoDiscovery struct {
	config  Config
	catalog *catalog
	device  DeviceInfo
}

// New creates an auto-discovery renderer from the embedded catalog.
func New(config Config) (*AutoDiscovery, error) {
	var cat catalog
	if err := yaml.Unmarshal(entityCatalogYAML, &cat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(cat.Entities))
	for _, entity := range cat.Entities {
		if _, dup := seen[entity.ID]; dup {
			return nil, fmt.Errorf("duplicate entity id %q in catalog", entity.ID)
		}
		seen[entity.ID] = struct{}{}
	}

	log.Info().
		Str("version", cat.Version).
		Int("entity_count", len(cat.Entities)).
		Msg("Home Assistant entity catalog loaded from YAML")

	return &AutoDiscovery{
		config:  config,
		catalog: &cat,
		device: DeviceInfo{
			Identifiers:  []string{config.DeviceID},
			Name:         config.DeviceName,
			Manufacturer: config.Manufacturer,
			Model:        config.Model,
			SwVersion:    config.SwVersion,
			ViaDevice:    config.DeviceID,
		},
	}, nil
}

// EntityCount returns the number of catalog rows.
func (ad *AutoDiscovery) EntityCount() int {
	return len(ad.catalog.Entities)
}

// AvailabilityTopic returns the retained availability topic for the device.
func (ad *AutoDiscovery) AvailabilityTopic() string {
	return ad.config.PublishPrefix + "/availability"
}

// Registrations renders every catalog row into a (topic, payload) pair, in
// catalog order.
func (ad *AutoDiscovery) Registrations() ([]Registration, error) {
	registrations := make([]Registration, 0, len(ad.catalog.Entities))
	for _, entity := range ad.catalog.Entities {
		registration, err := ad.render(entity)
		if err != nil {
			return nil, err
		}
		registrations = append(registrations, registration)
	}
	return registrations, nil
}

// render produces the registration for a single entity.
func (ad *AutoDiscovery) render(entity Entity) (Registration, error) {
	// Catalog ids are topic paths; discovery object ids must not contain
	// slashes.
	entityID := fmt.Sprintf("%s_%s", ad.config.DeviceID, strings.ReplaceAll(entity.ID, "/", "_"))
	stateTopic := fmt.Sprintf("%s/%s", ad.config.PublishPrefix, entity.ID)

	message := DiscoveryMessage{
		UniqueID:            entityID,
		Name:                entity.Name,
		StateTopic:          stateTopic,
		Device:              ad.device,
		AvailabilityTopic:   ad.AvailabilityTopic(),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		DeviceClass:         entity.DeviceClass,
		Icon:                entity.Icon,
		JSONAttributesTopic: stateTopic + "/attributes",
	}

	switch entity.Domain {
	case "binary_sensor":
		message.PayloadOn = "ON"
		message.PayloadOff = "OFF"
	default:
		message.UnitOfMeasurement = entity.Unit
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return Registration{}, fmt.Errorf("failed to marshal discovery message for %s: %w", entity.ID, err)
	}

	return Registration{
		EntityID: entityID,
		Topic:    fmt.Sprintf("%s/%s/%s/config", ad.config.DiscoveryPrefix, entity.Domain, entityID),
		Payload:  payload,
	}, nil
}
