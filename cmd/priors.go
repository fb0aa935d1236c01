package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobsignal/archetype-cli/internal/evidence"
)

var priorsSource string

var priorsCmd = &cobra.Command{
	Use:   "priors",
	Short: "Manage macro employment priors",
}

var priorsLoadCmd = &cobra.Command{
	Use:   "load <priors.csv>",
	Short: "Load a role-by-metro priors CSV into the store",
	Long:  "Loads a macro prior table (columns: role,metro,employment,establishments,wage_p25,wage_median,wage_p75,wage_mean,as_of). Newer vintages replace older rows for the same role and metro.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		priors, err := evidence.LoadPriorsCSV(args[0], priorsSource)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.UpsertMacroPriors(ctx, priors)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d priors from %s\n", n, args[0])
		return nil
	},
}

func init() {
	priorsLoadCmd.Flags().StringVar(&priorsSource, "source", "macro_priors", "source id recorded on each prior row")
	priorsCmd.AddCommand(priorsLoadCmd)
	rootCmd.AddCommand(priorsCmd)
}
