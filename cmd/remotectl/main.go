package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/remotectl/remotectl/internal/config"
)

const (
	appName    = "remotectl"
	appVersion = "0.2.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Remote input-injection and screen-capture agent",
	Long: `Remotectl runs on a device and executes input-injection and
screen-capture commands from a remote controller over a JSON websocket
protocol, in one of two modes:

  serve  - listen for controller connections on a local port
  relay  - dial out to a relay and receive commands through it`,
	Version: appVersion,
}

var (
	flagConfig string
	flagToken  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Shared auth token (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

// loadConfig resolves the effective configuration: file (or defaults),
// then flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadConfigFile(flagConfig)
	} else {
		cfg, err = config.LoadGlobalConfig()
	}
	if err != nil {
		return nil, err
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	cfg.WarnInsecure()
	return cfg, nil
}

func main() {
	log.SetFlags(log.LstdFlags)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
