package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/protocol"
)

var openCmd = &cobra.Command{
	Use:   "open <motor>",
	Short: "Open the blind fully",
	Long: fmt.Sprintf(`Opens the blind fully.

Examples:
  blindctl open "living room"
  blindctl open %s --type position --timezone Europe/Amsterdam

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMotorAction(cmd, args[0], "Opening", deviceMethod((*motion.Device).Open))
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <motor>",
	Short: "Close the blind fully",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMotorAction(cmd, args[0], "Closing", deviceMethod((*motion.Device).Close))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <motor>",
	Short: "Stop the motor",
	Long: `Stops the motor.

The stop is sent after the double-click window (double_click in the config)
so that a second stop within the window can turn into the favorite command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMotorAction(cmd, args[0], "Stopping", deviceMethod((*motion.Device).Stop))
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <motor>",
	Short: "Move to the favorite position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMotorAction(cmd, args[0], "Moving to favorite", deviceMethod((*motion.Device).GoToFavorite))
	},
}

var positionCmd = &cobra.Command{
	Use:   "position <motor> <percent>",
	Short: "Move the blind to a position",
	Long: `Moves the blind to a position given in percent closed:
0 is fully open and 100 fully closed.

Examples:
  blindctl position "living room" 40`,
	Args: cobra.ExactArgs(2),
	RunE: runPosition,
}

var tiltCmd = &cobra.Command{
	Use:   "tilt <motor> <percent|open|close>",
	Short: "Tilt the slats",
	Long: `Tilts the slats to a percentage (0 open, 100 closed) or fully open or
closed.

Examples:
  blindctl tilt office 50
  blindctl tilt office close`,
	Args: cobra.ExactArgs(2),
	RunE: runTilt,
}

var speedCmd = &cobra.Command{
	Use:   "speed <motor> <low|medium|high>",
	Short: "Set the motor speed",
	Args:  cobra.ExactArgs(2),
	RunE:  runSpeed,
}

func init() {
	for _, c := range []*cobra.Command{openCmd, closeCmd, stopCmd, favoriteCmd, positionCmd, tiltCmd, speedCmd, statusCmd, connectCmd} {
		c.Flags().StringVar(&motorType, "type", string(motion.TypePosition),
			fmt.Sprintf("Blind type of an unconfigured motor (%s)", strings.Join(blindTypeNames(), ", ")))
	}
}

func blindTypeNames() []string {
	names := make([]string, 0, len(motion.BlindTypes))
	for _, t := range motion.BlindTypes {
		names = append(names, string(t))
	}
	return names
}

func parsePercent(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a percentage", protocol.ErrInvalidParameter, s)
	}
	return p, nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	p, err := parsePercent(args[1])
	if err != nil {
		return err
	}
	return runMotorAction(cmd, args[0], fmt.Sprintf("Moving to %d%%", p), func(ctx context.Context, dev *motion.Device) (bool, error) {
		return dev.SetPercentage(ctx, p)
	})
}

func runTilt(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(args[1]) {
	case "open":
		return runMotorAction(cmd, args[0], "Opening tilt", deviceMethod((*motion.Device).OpenTilt))
	case "close":
		return runMotorAction(cmd, args[0], "Closing tilt", deviceMethod((*motion.Device).CloseTilt))
	}

	p, err := parsePercent(args[1])
	if err != nil {
		return err
	}
	return runMotorAction(cmd, args[0], fmt.Sprintf("Tilting to %d%%", p), func(ctx context.Context, dev *motion.Device) (bool, error) {
		return dev.SetTiltPercentage(ctx, p)
	})
}

func runSpeed(cmd *cobra.Command, args []string) error {
	level, err := protocol.ParseSpeedLevel(args[1])
	if err != nil {
		return err
	}
	return runMotorAction(cmd, args[0], fmt.Sprintf("Setting speed %s", level), func(ctx context.Context, dev *motion.Device) (bool, error) {
		return dev.SetSpeed(ctx, level)
	})
}
