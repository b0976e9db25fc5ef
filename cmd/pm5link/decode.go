package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/pm5link/internal/pm5"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <general-status|workout-end> <hex>",
	Short: "Decode a raw telemetry packet",
	Long: `Decodes a PM5 notification payload without a device.

Bytes may be separated by spaces, colons or dashes.

Examples:
  pm5link decode general-status "e8 03 00 64 00 00"
  pm5link decode workout-end 00000000b2bb00204e0018968c78a0780002b104 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

var decodeJSON bool

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Output as JSON")
}

// parseHex accepts "0a1b", "0a 1b", "0a:1b" and "0a-1b".
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	t, err := pm5.ParseEventType(args[0])
	if err != nil || t == pm5.EventDisconnect {
		return fmt.Errorf("unknown packet type %q: use general-status or workout-end", args[0])
	}
	payload, err := parseHex(args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	var decoded any
	switch t {
	case pm5.EventGeneralStatus:
		status, err := pm5.DecodeLiveStatus(payload)
		if err != nil {
			return err
		}
		if !decodeJSON {
			fmt.Fprintf(out, "Elapsed time: %s\nDistance:     %.1f m\n", formatElapsed(status.ElapsedTime), status.Distance)
			return nil
		}
		decoded = status
	case pm5.EventWorkoutEnd:
		summary, err := pm5.DecodeWorkoutSummary(payload, time.Now())
		if err != nil {
			return err
		}
		if !decodeJSON {
			printSummary(out, summary)
			return nil
		}
		decoded = summary
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(decoded)
}
