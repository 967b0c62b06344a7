package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blindctl/pkg/config"
	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status <motor>",
	Short: "Show battery, speed and position",
	Long: fmt.Sprintf(`Connects to the motor, queries its status and prints it.

Examples:
  blindctl status "living room"
  blindctl status %s --type position_curtain

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "wait", 5*time.Second, "How long to wait for the status reply")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openMotor(cmd, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	// Connecting already queries the status, so the first reply may arrive
	// before the explicit query below.
	replies := make(chan *protocol.StatusUpdate, 1)
	s.device.OnStatus(func(u *protocol.StatusUpdate) {
		if u == nil {
			return
		}
		select {
		case replies <- u:
		default:
		}
	})

	progress := NewProgressPrinter(cmd.OutOrStdout(), "Querying "+s.motor.DisplayName(), "Connecting")
	s.device.OnConnection(func(state connection.State) {
		if state == connection.Connected {
			progress.SetPhase("Waiting for status")
		}
	})
	progress.Start()
	defer progress.Stop()

	ok, err := s.device.QueryStatus(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrNotSent
	}

	select {
	case u := <-replies:
		progress.Stop()
		printStatus(cmd.OutOrStdout(), s.motor, s.device.Capabilities(), u)
		return nil
	case <-time.After(statusTimeout):
		return ErrNoStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printStatus(w io.Writer, dc config.DeviceConfig, caps motion.Capabilities, u *protocol.StatusUpdate) {
	bold := color.New(color.Bold)
	row := func(name, value string) {
		fmt.Fprintf(w, "%s %s\n", bold.Sprintf("%-11s", name+":"), value)
	}

	row("Motor", fmt.Sprintf("%s (%s)", dc.DisplayName(), dc.Address))
	row("Type", string(dc.Type))
	if caps.Position {
		row("Position", fmt.Sprintf("%d%% closed", u.Position))
	}
	if caps.Tilt {
		row("Tilt", fmt.Sprintf("%d%% closed", u.Tilt))
	}
	if caps.Speed {
		row("Speed", u.Speed.String())
	}
	row("Battery", batteryColor(u.Battery).Sprintf("%d%%", u.Battery))
	if caps.Endstops {
		calibrated := color.GreenString("yes")
		if !u.Endstops.Up || !u.Endstops.Down {
			calibrated = color.RedString("no")
		}
		row("Calibrated", calibrated)
	}
}

func batteryColor(level int) *color.Color {
	switch {
	case level < 20:
		return color.New(color.FgRed)
	case level < 50:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}
