package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)

	// MQTT defaults
	assert.Equal(t, "localhost", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "hisense/hnet/raw", cfg.MQTT.InputTopic)
	assert.Equal(t, "PDC", cfg.MQTT.PublishPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, true, cfg.MQTT.Retain)
	assert.Equal(t, 60, cfg.MQTT.KeepAlive)
	assert.Equal(t, 5, cfg.MQTT.ReconnectDelay)

	// H-NET defaults
	assert.Equal(t, byte(0x21), cfg.HNet.IndoorControllerAddr)
	assert.Equal(t, byte(0x12), cfg.HNet.OutdoorUnitAddr)
	assert.Equal(t, byte(129), cfg.HNet.InvalidSensorValue)

	// Home Assistant defaults
	assert.Equal(t, true, cfg.HomeAssistant.DiscoveryEnabled)
	assert.Equal(t, "homeassistant", cfg.HomeAssistant.DiscoveryPrefix)
	assert.Equal(t, "hisense_hnet", cfg.HomeAssistant.DeviceID)

	// API defaults
	assert.Equal(t, true, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)

	// Debug defaults
	assert.False(t, cfg.Debug.PrintRawFrames)
	assert.True(t, cfg.Debug.SaveUnknownFrames)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
log_level: debug
mqtt:
  broker: broker.local
  port: 8883
  input_topic: hvac/raw
  publish_prefix: heatpump
  qos: 2
  retain: false
hnet:
  indoor_controller_addr: 0x31
  outdoor_unit_addr: 0x13
  invalid_sensor_value: 200
homeassistant:
  discovery_enabled: false
api:
  enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "broker.local", cfg.MQTT.Broker)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "hvac/raw", cfg.MQTT.InputTopic)
	assert.Equal(t, "heatpump", cfg.MQTT.PublishPrefix)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.False(t, cfg.MQTT.Retain)
	assert.Equal(t, byte(0x31), cfg.HNet.IndoorControllerAddr)
	assert.Equal(t, byte(0x13), cfg.HNet.OutdoorUnitAddr)
	assert.Equal(t, byte(200), cfg.HNet.InvalidSensorValue)
	assert.False(t, cfg.HomeAssistant.DiscoveryEnabled)
	assert.False(t, cfg.API.Enabled)

	// Unset keys keep their defaults.
	assert.Equal(t, 60, cfg.MQTT.KeepAlive)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("mqtt: [broken"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty broker", func(c *Config) { c.MQTT.Broker = "" }, true},
		{"port too high", func(c *Config) { c.MQTT.Port = 70000 }, true},
		{"port zero", func(c *Config) { c.MQTT.Port = 0 }, true},
		{"empty input topic", func(c *Config) { c.MQTT.InputTopic = "" }, true},
		{"empty publish prefix", func(c *Config) { c.MQTT.PublishPrefix = "" }, true},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"colliding bus addresses", func(c *Config) { c.HNet.OutdoorUnitAddr = c.HNet.IndoorControllerAddr }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
