package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/outbox/internal/notify"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync loop until interrupted",
	Long: `Run the engine in the foreground: probe the remote, drain the queue on
its schedule and as soon as connectivity returns, and snapshot state to disk.

With an MQTT broker configured, every status change is published (retained)
to outbox/<source-id>/status.`,
	Example: `  outbox daemon --remote-url https://api.example.com --api-key $KEY
  OUTBOX_MQTT_BROKER=tcp://localhost:1883 outbox daemon`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if a.probe != nil {
		go a.probe.Run(ctx)
	} else {
		a.logger.Warn("no remote configured, running offline")
	}

	if a.cfg.MQTTBroker != "" {
		pub := notify.NewPublisher(notify.Config{
			Broker:   a.cfg.MQTTBroker,
			Username: a.cfg.MQTTUsername,
			Password: a.cfg.MQTTPassword,
			SourceID: a.cfg.SourceID,
		}, a.logger)
		if err := pub.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Stop()
		a.engine.Subscribe(pub)
		pub.OnStatus(a.engine.SyncStatus())
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if !outputJSON {
		printInfo(cmd.ErrOrStderr(), "outbox daemon running (profile %s, %s)", a.cfg.Profile, a.cfg.LocalPath)
	}

	<-ctx.Done()

	a.logger.Info("shutting down")
	stopped := make(chan error, 1)
	go func() { stopped <- a.engine.Close() }()
	select {
	case err := <-stopped:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("shutdown timed out")
	}
}
