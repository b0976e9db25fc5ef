package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/pm5link/internal/logbook"
)

var logbookCmd = &cobra.Command{
	Use:   "logbook",
	Short: "List recorded workouts",
	Long: `Lists workouts recorded by "monitor --record" or "serve --record", newest first.

The database path comes from logbook.path in the config file, PM5LINK_LOGBOOK, or --db.`,
	Args: cobra.NoArgs,
	RunE: runLogbook,
}

var (
	logbookJSON bool
	logbookDB   string
)

func init() {
	logbookCmd.Flags().BoolVar(&logbookJSON, "json", false, "Output as JSON")
	logbookCmd.Flags().StringVar(&logbookDB, "db", "", "Logbook database path (overrides config)")
}

func runLogbook(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	if logbookDB != "" {
		cfg.Logbook.Path = logbookDB
	}
	cmd.SilenceUsage = true

	store, err := logbook.NewSQLiteStore(cfg.Logbook.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.LoadAll(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if logbookJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No workouts recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tDISTANCE\tPACE\tWORKOUT")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f m\t%s\t%s\n",
			e.ID, formatDate(e.CaptureTimestamp), formatElapsed(e.ElapsedTime), e.Distance, formatPace(e.AveragePace), e.WorkoutType)
	}
	return w.Flush()
}
