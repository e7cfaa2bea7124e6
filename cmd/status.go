package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"stortinget-register/internal/engine"
)

// newStatusCmd creates the 'status' subcommand: a read-only summary of the
// manifest, checkpoint, and open gaps. It never touches the network.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <storage-path>",
		Short: "Summarize the sync state at a storage root",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	st, err := engine.CurrentStatus(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "manifest rows:   %d\n", st.Manifest.TotalRows)
	for _, status := range sortedKeys(st.Manifest.ByStatus) {
		fmt.Fprintf(out, "  %-14s %d\n", status+":", st.Manifest.ByStatus[status])
	}
	if st.Manifest.FirstDate != "" {
		fmt.Fprintf(out, "date range:      %s .. %s\n", st.Manifest.FirstDate, st.Manifest.LastDate)
	}
	if len(st.Manifest.PeriodFolders) > 0 {
		fmt.Fprintf(out, "archive folders: %s\n", strings.Join(st.Manifest.PeriodFolders, ", "))
	}
	fmt.Fprintf(out, "open gaps:       %d\n", st.OpenGaps)

	if st.Checkpoint.RunStartedAt != "" {
		fmt.Fprintf(out, "interrupted run: started %s, scanned %d dates (last %s), %d errors\n",
			st.Checkpoint.RunStartedAt,
			st.Checkpoint.DatesScanned,
			st.Checkpoint.LastDateScanned,
			st.Checkpoint.Errors,
		)
	} else {
		fmt.Fprintln(out, "no interrupted run")
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
