package config

import (
	"os"
	"path/filepath"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the config file name under the XDG config dir.
const GlobalConfigFile = "config.kdl"

// KDLConfig is the on-disk configuration structure.
//
//	auth token="s3cret"
//	server port=8765
//	relay url="wss://relay.example.com/ws" reconnect-delay=5000
type KDLConfig struct {
	Auth   *KDLAuth   `kdl:"auth"`
	Server *KDLServer `kdl:"server"`
	Relay  *KDLRelay  `kdl:"relay"`
}

// KDLAuth holds the shared secret.
type KDLAuth struct {
	Token string `kdl:"token"`
}

// KDLServer holds listening-mode settings.
type KDLServer struct {
	Port int `kdl:"port"`
}

// KDLRelay holds relay-mode settings.
type KDLRelay struct {
	URL            string `kdl:"url"`
	ReconnectDelay int    `kdl:"reconnect-delay"` // milliseconds
}

// LoadGlobalConfig loads configuration from the default location,
// falling back to defaults when no file exists.
func LoadGlobalConfig() (*Config, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		configDir = filepath.Join(home, ".config")
	}

	configPath := filepath.Join(configDir, "remotectl", GlobalConfigFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data, layering it over the
// defaults.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if kdlCfg.Auth != nil && kdlCfg.Auth.Token != "" {
		cfg.Token = kdlCfg.Auth.Token
	}
	if kdlCfg.Server != nil && kdlCfg.Server.Port > 0 {
		cfg.Port = kdlCfg.Server.Port
	}
	if kdlCfg.Relay != nil {
		if kdlCfg.Relay.URL != "" {
			cfg.RelayURL = kdlCfg.Relay.URL
		}
		if kdlCfg.Relay.ReconnectDelay > 0 {
			cfg.ReconnectDelay = time.Duration(kdlCfg.Relay.ReconnectDelay) * time.Millisecond
		}
	}
	return cfg, nil
}
