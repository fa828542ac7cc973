// Package main provides the entry point for the Hi-Therma bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotragit/Hi-Therma/internal/config"
	"github.com/rotragit/Hi-Therma/internal/diagnostics"
	"github.com/rotragit/Hi-Therma/internal/domain"
	"github.com/rotragit/Hi-Therma/internal/pubsub"
	"github.com/rotragit/Hi-Therma/internal/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run() // run() returns an int
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("Hi-Therma bridge %s\n", Version)
		return 0
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger with the configured log level
	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting Hi-Therma bridge")
	cfg.Print()

	// Frame archiver for invalid-checksum and unknown-opcode frames
	var archiver domain.FrameArchiver = domain.NoopArchiver{}
	if cfg.Debug.SaveUnknownFrames {
		fileArchiver, err := diagnostics.NewFileArchiver(cfg.Debug.UnknownFramesFile)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize frame archiver, archiving disabled")
		} else {
			archiver = fileArchiver
		}
	}

	// MQTT is both the ingest and the publish side of the bridge
	publisher := pubsub.NewMQTTClient(cfg)

	bridge, err := service.NewBridge(cfg, publisher, archiver)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create bridge")
		return 1
	}

	if err := bridge.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start bridge")
		return 1
	}

	log.Info().
		Str("broker", cfg.MQTT.Broker).
		Int("port", cfg.MQTT.Port).
		Msg("Bridge started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the bridge
	if err := bridge.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping bridge")
		return 1
	}

	log.Info().Msg("Bridge stopped")
	return 0
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
