package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print PM5 device information",
	Long: `Connects to a PM5, reads manufacturer, hardware revision, serial number and
firmware version, then disconnects.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

var infoJSON bool

func init() {
	addConnectFlags(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
}

func runInfo(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	applyConnectFlags(cmd, cfg)
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	session, cleanup, err := openSession(ctx, cmd, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := readInformation(ctx, session, cfg.Device.ConnectTimeout)
	if err != nil {
		return err
	}

	if infoJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printInformation(cmd.OutOrStdout(), info)
	return nil
}
