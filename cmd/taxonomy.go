package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	unmatchedLimit int
	unmatchedJSON  bool
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the title rule set and unmatched ledger",
}

var taxonomyVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the active rule set version",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := initRules()
		if err != nil {
			return err
		}
		fmt.Printf("rule set %s (%d rules)\n", rules.Version(), rules.RuleCount())
		return nil
	},
}

var taxonomyUnmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "List titles no rule matched, by frequency",
	Long:  "The unmatched ledger is the rule-set growth backlog: every title seen that no rule matched, with occurrence counts. High-count entries are the next rules to write.",
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

		titles, err := st.ListUnmatchedTitles(ctx, unmatchedLimit)
		if err != nil {
			return err
		}

		if unmatchedJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(titles)
		}

		fmt.Printf("%8s  %-16s %s\n", "COUNT", "FIRST_RUN", "TITLE")
		for _, t := range titles {
			fmt.Printf("%8d  %-16s %s\n", t.Count, t.FirstSeenRun, t.NormalizedTitle)
		}
		return nil
	},
}

func init() {
	taxonomyUnmatchedCmd.Flags().IntVar(&unmatchedLimit, "limit", 50, "maximum rows")
	taxonomyUnmatchedCmd.Flags().BoolVar(&unmatchedJSON, "json", false, "emit JSON")
	taxonomyCmd.AddCommand(taxonomyVersionCmd, taxonomyUnmatchedCmd)
	rootCmd.AddCommand(taxonomyCmd)
}
