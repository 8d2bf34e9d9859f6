// Package config loads the host configuration consumed by the connection
// managers at construction: listen port, shared auth token, relay endpoint,
// and reconnect delay.
package config

import (
	"log"
	"time"
)

// Defaults.
const (
	DefaultPort           = 8765
	DefaultToken          = "changeme"
	DefaultReconnectDelay = 5000 * time.Millisecond
)

// Config holds the complete agent configuration.
type Config struct {
	// Port is the listening-mode port.
	Port int

	// Token is the shared authentication secret for both transports.
	Token string

	// RelayURL is the relay-mode dial target. Empty disables relay mode
	// unless given on the command line.
	RelayURL string

	// ReconnectDelay is the flat wait between relay reconnect attempts.
	ReconnectDelay time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:           DefaultPort,
		Token:          DefaultToken,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// WarnInsecure logs a warning when the config still carries the default
// token. The protocol has no transport security of its own, so shipping
// the stock token means anyone on the network can drive the device.
func (c *Config) WarnInsecure() {
	if c.Token == DefaultToken {
		log.Printf("[Config] WARNING: auth token is the default %q; set a real token before exposing this device", DefaultToken)
	}
}
