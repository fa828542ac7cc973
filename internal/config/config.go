// Package config provides configuration management for the Hi-Therma bridge.
package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// MQTT transport settings
	MQTT struct {
		Broker         string `mapstructure:"broker"`
		Port           int    `mapstructure:"port"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		InputTopic     string `mapstructure:"input_topic"`
		PublishPrefix  string `mapstructure:"publish_prefix"`
		QoS            byte   `mapstructure:"qos"`
		Retain         bool   `mapstructure:"retain"`
		KeepAlive      int    `mapstructure:"keepalive"`
		ReconnectDelay int    `mapstructure:"reconnect_delay"`
	} `mapstructure:"mqtt"`

	// H-NET protocol settings
	HNet struct {
		IndoorControllerAddr byte `mapstructure:"indoor_controller_addr"`
		OutdoorUnitAddr      byte `mapstructure:"outdoor_unit_addr"`
		InvalidSensorValue   byte `mapstructure:"invalid_sensor_value"`
	} `mapstructure:"hnet"`

	// Home Assistant discovery settings
	HomeAssistant struct {
		DiscoveryEnabled bool   `mapstructure:"discovery_enabled"`
		DiscoveryPrefix  string `mapstructure:"discovery_prefix"`
		DeviceID         string `mapstructure:"device_id"`
		DeviceName       string `mapstructure:"device_name"`
		Manufacturer     string `mapstructure:"manufacturer"`
		Model            string `mapstructure:"model"`
		SwVersion        string `mapstructure:"sw_version"`
	} `mapstructure:"homeassistant"`

	// HTTP status API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// Debug settings
	Debug struct {
		PrintRawFrames    bool   `mapstructure:"print_raw_frames"`
		SaveUnknownFrames bool   `mapstructure:"save_unknown_frames"`
		UnknownFramesFile string `mapstructure:"unknown_frames_file"`
	} `mapstructure:"debug"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	// Default MQTT settings
	cfg.MQTT.Broker = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.InputTopic = "hisense/hnet/raw"
	cfg.MQTT.PublishPrefix = "PDC"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Retain = true
	cfg.MQTT.KeepAlive = 60
	cfg.MQTT.ReconnectDelay = 5

	// Default H-NET bus addresses and sentinel
	cfg.HNet.IndoorControllerAddr = 0x21
	cfg.HNet.OutdoorUnitAddr = 0x12
	cfg.HNet.InvalidSensorValue = 129

	// Default Home Assistant discovery settings
	cfg.HomeAssistant.DiscoveryEnabled = true
	cfg.HomeAssistant.DiscoveryPrefix = "homeassistant"
	cfg.HomeAssistant.DeviceID = "hisense_hnet"
	cfg.HomeAssistant.DeviceName = "Hisense Heat Pump"
	cfg.HomeAssistant.Manufacturer = "Hisense"
	cfg.HomeAssistant.Model = "H-NET Heat Pump"
	cfg.HomeAssistant.SwVersion = "1.0.0"

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default debug settings
	cfg.Debug.PrintRawFrames = false
	cfg.Debug.SaveUnknownFrames = true
	cfg.Debug.UnknownFramesFile = "logs/unknown_frames.log"

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("HITHERMA")
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the bridge cannot start with.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.InputTopic == "" {
		return fmt.Errorf("mqtt.input_topic must not be empty")
	}
	if c.MQTT.PublishPrefix == "" {
		return fmt.Errorf("mqtt.publish_prefix must not be empty")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range (0-2)", c.MQTT.QoS)
	}
	if c.HNet.IndoorControllerAddr == c.HNet.OutdoorUnitAddr {
		return fmt.Errorf("hnet indoor and outdoor addresses must differ")
	}
	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("Hi-Therma Bridge Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("broker", c.MQTT.Broker).
		Int("port", c.MQTT.Port).
		Str("input_topic", c.MQTT.InputTopic).
		Str("publish_prefix", c.MQTT.PublishPrefix).
		Uint8("qos", c.MQTT.QoS).
		Bool("retain", c.MQTT.Retain).
		Msg("MQTT")

	logger.Info().
		Uint8("indoor_controller_addr", c.HNet.IndoorControllerAddr).
		Uint8("outdoor_unit_addr", c.HNet.OutdoorUnitAddr).
		Uint8("invalid_sensor_value", c.HNet.InvalidSensorValue).
		Msg("H-NET")

	logger.Info().Bool("enabled", c.HomeAssistant.DiscoveryEnabled).Msg("Home Assistant Discovery")
	if c.HomeAssistant.DiscoveryEnabled {
		logger.Info().
			Str("discovery_prefix", c.HomeAssistant.DiscoveryPrefix).
			Str("device_id", c.HomeAssistant.DeviceID).
			Str("device_name", c.HomeAssistant.DeviceName).
			Msg("Home Assistant Device")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Msg("-----------------------------")
}
