// Package main provides a container health probe for the Hi-Therma bridge.
// It verifies the configuration file, the status API and the broker link
// state reported by the bridge, exiting 0 when healthy and 1 otherwise.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rotragit/Hi-Therma/internal/config"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	timeout := flag.Duration("timeout", 5*time.Second, "Status API request timeout")
	flag.Parse()

	if !runChecks(*configFile, *timeout) {
		fmt.Println("healthcheck: FAIL")
		os.Exit(1)
	}
	fmt.Println("healthcheck: OK")
}

func runChecks(configFile string, timeout time.Duration) bool {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Printf("configuration check failed: %v\n", err)
		return false
	}

	if !cfg.API.Enabled {
		// Without the status API the probe can only vouch for the config.
		fmt.Println("status API disabled, skipping connectivity checks")
		return true
	}

	status, err := fetchStatus(cfg, timeout)
	if err != nil {
		fmt.Printf("status API check failed: %v\n", err)
		return false
	}

	if connected, ok := status["mqtt_connected"].(bool); ok && !connected {
		fmt.Println("bridge reports MQTT disconnected")
		return false
	}

	return true
}

func fetchStatus(cfg *config.Config, timeout time.Duration) (map[string]interface{}, error) {
	client := &http.Client{Timeout: timeout}
	url := fmt.Sprintf("http://%s:%d/api/v1/status", cfg.API.Host, cfg.API.Port)

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}
	return status, nil
}
