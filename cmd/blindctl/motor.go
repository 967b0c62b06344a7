package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blindctl/internal/devicefactory"
	"github.com/srg/blindctl/pkg/config"
	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/motion"
)

const disconnectTimeout = 5 * time.Second

var (
	configPath       string
	timezoneOverride string
	backendOverride  string
	motorType        string
)

// loadConfig reads --config and applies the command line overrides. A
// missing file at the default location yields the defaults.
func loadConfig() (*config.Config, error) {
	path, explicit := configPath, configPath != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.DefaultConfig()
	default:
		return nil, err
	}

	if timezoneOverride != "" {
		cfg.Timezone = timezoneOverride
	}
	if backendOverride != "" {
		cfg.Backend = backendOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveMotor finds nameOrAddress in the config, or treats it as the
// address of an unconfigured motor of --type.
func resolveMotor(cfg *config.Config, nameOrAddress string) (config.DeviceConfig, error) {
	if dc, ok := cfg.Device(nameOrAddress); ok {
		return dc, nil
	}
	t := motion.BlindType(motorType)
	if _, err := motion.CapabilitiesFor(t); err != nil {
		return config.DeviceConfig{}, err
	}
	return config.DeviceConfig{Address: nameOrAddress, Type: t}, nil
}

// signalContext is cancelled by Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// motorSession is one motor opened for a single CLI invocation.
type motorSession struct {
	config *config.Config
	motor  config.DeviceConfig
	device *motion.Device
	logger *logrus.Logger
}

func openMotor(cmd *cobra.Command, nameOrAddress string) (*motorSession, error) {
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dc, err := resolveMotor(cfg, nameOrAddress)
	if err != nil {
		return nil, err
	}

	factory, err := devicefactory.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	dev, err := factory.Device(dc)
	if err != nil {
		return nil, err
	}
	return &motorSession{config: cfg, motor: dc, device: dev, logger: logger}, nil
}

func (s *motorSession) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.device.Disconnect(ctx); err != nil {
		s.logger.WithError(err).Debug("Disconnect failed")
	}
}

// motorAction is one device operation run by a CLI command.
type motorAction func(ctx context.Context, dev *motion.Device) (bool, error)

func deviceMethod(fn func(*motion.Device, context.Context) (bool, error)) motorAction {
	return func(ctx context.Context, dev *motion.Device) (bool, error) { return fn(dev, ctx) }
}

// runMotorAction opens the motor, runs action with a progress line and
// reports the outcome.
func runMotorAction(cmd *cobra.Command, nameOrAddress, verb string, action motorAction) error {
	s, err := openMotor(cmd, nameOrAddress)
	if err != nil {
		return err
	}
	defer s.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	progress := NewProgressPrinter(cmd.OutOrStdout(), fmt.Sprintf("%s %s", verb, s.motor.DisplayName()), "Connecting")
	s.device.OnConnection(func(state connection.State) {
		if state == connection.Connected {
			progress.SetPhase("Sending")
		}
	})
	progress.Start()
	ok, err := action(ctx, s.device)
	progress.Stop()

	if err != nil {
		return err
	}
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrNotSent
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", verb, s.motor.DisplayName(), color.GreenString("done"))
	return nil
}
