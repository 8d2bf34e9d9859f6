package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remotectl/remotectl/internal/dispatch"
	"github.com/remotectl/remotectl/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Dial out to a relay and receive commands through it",
	Long: `Run the relay transport: this device dials the relay endpoint with
the shared token embedded in the URL and keeps the link alive, reconnecting
with a flat delay whenever it drops.`,
	RunE: runRelay,
}

var flagRelayURL string

func init() {
	relayCmd.Flags().StringVar(&flagRelayURL, "url", "", "Relay endpoint (overrides config)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagRelayURL != "" {
		cfg.RelayURL = flagRelayURL
	}
	if cfg.RelayURL == "" {
		return errors.New("no relay URL configured; pass --url or set relay url in the config file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	dispatcher := dispatch.New(newStubInjector(), newStubCapture())

	client := relay.New(relay.Config{
		URL:            cfg.RelayURL,
		Token:          cfg.Token,
		ReconnectDelay: cfg.ReconnectDelay,
		OnStatus: func(status relay.Status) {
			log.Printf("[Relay] status: %s", status)
		},
	}, dispatcher)

	if err := client.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Printf("[Relay] shutting down")
	client.Stop()
	return nil
}
