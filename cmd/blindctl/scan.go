package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blindctl/internal/devicefactory"
	"github.com/srg/blindctl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for MotionBlinds motors",
	Long: `Listens for BLE advertisements and lists the MotionBlinds motors in range.

Motors are recognised by their MOTION_XXXX name or by the motor control
service. Motors that are already in the config file are marked.

Examples:
  blindctl scan
  blindctl scan --duration 30s --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show motors with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide motors with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	factory, err := devicefactory.New(cfg, logger)
	if err != nil {
		return err
	}
	s, err := factory.Scanner()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.OutOrStdout(), "Scanning for motors", "Scanning", scanDuration)
	progress.Start()
	motors, err := s.Scan(ctx, &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}, progress.SetPhase)
	progress.Stop()
	if err != nil {
		return err
	}

	configured := make(map[string]string, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		configured[strings.ToUpper(dc.Address)] = dc.DisplayName()
	}

	if scanFormat == "json" {
		return displayMotorsJSON(cmd.OutOrStdout(), motors)
	}
	return displayMotorsTable(cmd.OutOrStdout(), motors, configured)
}

func displayMotorsTable(out io.Writer, motors []scanner.Motor, configured map[string]string) error {
	if len(motors) == 0 {
		fmt.Fprintln(out, "No motors discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tADDRESS\tRSSI\tCONFIGURED AS")
	for _, m := range motors {
		name := m.Name
		if name == "" {
			name = "-"
		}
		as := configured[m.Address]
		if as == "" {
			as = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s\n", name, m.ID, m.Address, m.RSSI, as)
	}
	return w.Flush()
}

func displayMotorsJSON(out io.Writer, motors []scanner.Motor) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(motors)
}
