package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blindctl",
	Short: "MotionBlinds BLE motor control",
	Long: `Controls MotionBlinds motors over Bluetooth Low Energy:

- Open, close, stop and move blinds to a position or tilt
- Set motor speed and recall the favorite position
- Query battery, speed and position status
- Keep a motor connected for a while to speed up follow-up commands
- Find motors in range
- Bridge all configured motors to MQTT with Home Assistant discovery

Motors are looked up by name or address in the config file; an unknown
address is used as-is with --type.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(tiltCmd)
	rootCmd.AddCommand(speedCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(scanCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/blindctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Verbose output, same as --log-level debug")
	rootCmd.PersistentFlags().StringVar(&timezoneOverride, "timezone", "", "IANA timezone of the motors, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&backendOverride, "backend", "", "BLE backend (go-ble, tinygo), overrides the config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("blindctl {{.Version}} (commit %s, built %s)\n", commit, date))
}
