package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remotectl/remotectl/internal/dispatch"
	"github.com/remotectl/remotectl/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for controller connections",
	Long: `Run the listening transport: controllers connect to this device's
websocket endpoint, authenticate with the shared token, and issue commands.`,
	RunE: runServe,
}

var flagPort int

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagPort > 0 {
		cfg.Port = flagPort
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	dispatcher := dispatch.New(newStubInjector(), newStubCapture())

	srv := server.New(server.Config{
		Port:  cfg.Port,
		Token: cfg.Token,
	}, dispatcher)

	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Printf("[Serve] shutting down")
	srv.Stop()
	return nil
}
