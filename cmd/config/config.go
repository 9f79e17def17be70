package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the relay and the overlay client
type Config struct {
	// Relay server configuration
	Port int `envconfig:"PORT" default:"10001"`

	// Overlay client configuration
	RelayURL    string `envconfig:"RELAY_URL" default:"ws://localhost:10001/ws"`
	DevtoolsURL string `envconfig:"DEVTOOLS_URL" default:"ws://localhost:9222/devtools/browser"`
	// Conference page to open. If empty the client attaches to whatever page
	// the browser is already on.
	PageURL string `envconfig:"PAGE_URL" default:""`

	ViewportWidth  int `envconfig:"VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int `envconfig:"VIEWPORT_HEIGHT" default:"720"`

	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"2s"`
	ResizeDebounce       time.Duration `envconfig:"RESIZE_DEBOUNCE" default:"250ms"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 {
		return fmt.Errorf("PORT must be greater than 0")
	}
	if config.RelayURL == "" {
		return fmt.Errorf("RELAY_URL is required")
	}
	if config.ViewportWidth <= 0 || config.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be greater than 0")
	}
	if config.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be greater than 0")
	}
	if config.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}
	if config.ResizeDebounce <= 0 {
		return fmt.Errorf("RESIZE_DEBOUNCE must be greater than 0")
	}
	return nil
}
