package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blindctl/pkg/connection"
)

var connectCmd = &cobra.Command{
	Use:   "connect <motor>",
	Short: "Connect and hold the connection",
	Long: `Connects to the motor and keeps the connection open until the idle
timeout expires, the motor drops the link or Ctrl+C is pressed.

--timeout replaces the idle deadline even when a later one is pending; it
defaults to connection.disconnect_timeout from the config.

Examples:
  blindctl connect "living room" --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var connectTimeout time.Duration

func init() {
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "Idle disconnect timeout (default from config)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	s, err := openMotor(cmd, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	timeout := connectTimeout
	if timeout <= 0 {
		timeout = s.config.Connection.DisconnectTimeout
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	disconnected := make(chan struct{})
	var connected atomic.Bool
	var once sync.Once
	s.device.OnConnection(func(state connection.State) {
		switch state {
		case connection.Connected:
			connected.Store(true)
		case connection.Disconnected:
			if connected.Load() {
				once.Do(func() { close(disconnected) })
			}
		}
	})

	progress := NewProgressPrinter(cmd.OutOrStdout(), "Connecting to "+s.motor.DisplayName(), "Connecting")
	progress.Start()
	ok, err := s.device.ConnectWithTimeout(ctx, timeout)
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

	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s: %s\n", s.motor.DisplayName(), color.GreenString("holding for %s", timeout))

	countdown := NewCountdownProgressPrinter(cmd.OutOrStdout(), "Connected to "+s.motor.DisplayName(), "disconnecting in", timeout)
	countdown.Start()
	defer countdown.Stop()

	select {
	case <-disconnected:
		countdown.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Disconnected from %s\n", s.motor.DisplayName())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
