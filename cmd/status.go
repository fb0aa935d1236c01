package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	statusLimit int
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, statusLimit)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		fmt.Printf("%-38s %-12s %-8s %-20s %10s %8s %8s\n",
			"RUN", "MODE", "STATUS", "STARTED", "OBS", "KEYS", "REVIEW")
		for _, r := range runs {
			fmt.Printf("%-38s %-12s %-8s %-20s %10d %8d %8d\n",
				r.RunID, r.Mode, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"),
				r.ObservationsTotal, r.KeysSynthesized, r.ReviewItems)
		}

		last, err := st.LastSuccessfulRun(ctx)
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Printf("\nincremental cutoff: %s\n", last.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to show")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(statusCmd)
}
