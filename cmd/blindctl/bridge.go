package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blindctl/internal/devicefactory"
	"github.com/srg/blindctl/internal/mqtt"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge configured motors to MQTT",
	Long: `Runs until interrupted, exposing every motor from the config file over MQTT
with Home Assistant discovery.

Topics, with <prefix> = mqtt.topic_prefix and <id> = the motor name:
  <prefix>/bridge/state             online / offline
  <prefix>/<id>                     retained JSON state
  <prefix>/<id>/set                 OPEN, CLOSE, STOP
  <prefix>/<id>/position/set        0-100, 100 = open
  <prefix>/<id>/tilt/set            0-100, 100 = open
  <prefix>/<id>/speed/set           low, medium, high
  <prefix>/<id>/action              connect [seconds], disconnect, favorite, status`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

// bridgeOptions are appended to the bridge's options; tests swap the MQTT
// client here.
var bridgeOptions []mqtt.Option

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg.Level())
	if err != nil {
		return err
	}

	if cfg.MQTT.Broker == "" {
		return errors.New("mqtt.broker is not configured")
	}
	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	factory, err := devicefactory.New(cfg, logger)
	if err != nil {
		return err
	}
	devices, err := factory.Devices()
	if err != nil {
		return err
	}

	bridge, err := mqtt.NewBridge(cfg.MQTT, append([]mqtt.Option{mqtt.WithLogger(logger)}, bridgeOptions...)...)
	if err != nil {
		return err
	}
	for i, dev := range devices {
		if err := bridge.Add(cfg.Devices[i], dev); err != nil {
			return fmt.Errorf("device %s: %w", cfg.Devices[i].DisplayName(), err)
		}
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := bridge.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Bridging %d motors to %s, press Ctrl+C to stop\n", len(devices), cfg.MQTT.Broker)

	<-ctx.Done()
	logger.Info("Bridge shutting down...")

	bridge.Stop()
	disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	for _, dev := range devices {
		if err := dev.Disconnect(disconnectCtx); err != nil {
			logger.WithError(err).WithField("address", dev.Address()).Warn("Disconnect failed")
		}
	}
	return nil
}
