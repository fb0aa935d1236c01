package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/store"
)

var (
	archCompany     string
	archMetro       string
	archRole        string
	archSeniority   string
	archRecordType  string
	archMinConf     float64
	archNeedsReview bool
	archLimit       int
	archJSON        bool
)

var archetypesCmd = &cobra.Command{
	Use:   "archetypes",
	Short: "Query synthesized archetypes",
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

		f := store.ArchetypeFilter{
			Company:       archCompany,
			Metro:         archMetro,
			Role:          archRole,
			Seniority:     model.Seniority(archSeniority),
			RecordType:    model.RecordType(archRecordType),
			MinConfidence: archMinConf,
			Limit:         archLimit,
		}
		if cmd.Flags().Changed("needs-review") {
			f.NeedsReview = &archNeedsReview
		}

		archs, err := st.QueryArchetypes(ctx, f)
		if err != nil {
			return err
		}

		if archJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(archs)
		}

		fmt.Printf("%-24s %-18s %-22s %-9s %-8s %5s %10s %6s\n",
			"COMPANY", "METRO", "ROLE", "SENIORITY", "TYPE", "CONF", "SALARY_P50", "OBS")
		for _, a := range archs {
			fmt.Printf("%-24s %-18s %-22s %-9s %-8s %5.2f %10.0f %6d\n",
				a.Key.Company, a.Key.Metro, a.Key.Role, a.Key.Seniority,
				a.RecordType, a.CompositeConfidence, a.SalaryP50,
				a.Evidence.ObservationCount)
		}
		return nil
	},
}

var archetypesShowCmd = &cobra.Command{
	Use:   "show <archetype-id>",
	Short: "Show one archetype with its evidence links",
	Args:  cobra.ExactArgs(1),
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

		arch, err := st.GetArchetype(ctx, args[0])
		if err != nil {
			return err
		}
		if arch == nil {
			return eris.Errorf("archetype not found: %s", args[0])
		}
		links, err := st.ListEvidenceLinks(ctx, arch.ID, false)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Archetype *model.Archetype     `json:"archetype"`
			Evidence  []model.EvidenceLink `json:"evidence"`
		}{arch, links})
	},
}

func init() {
	archetypesCmd.Flags().StringVar(&archCompany, "company", "", "filter by company id")
	archetypesCmd.Flags().StringVar(&archMetro, "metro", "", "filter by metro id")
	archetypesCmd.Flags().StringVar(&archRole, "role", "", "filter by canonical role")
	archetypesCmd.Flags().StringVar(&archSeniority, "seniority", "", "filter by seniority band")
	archetypesCmd.Flags().StringVar(&archRecordType, "record-type", "", "observed or inferred")
	archetypesCmd.Flags().Float64Var(&archMinConf, "min-confidence", 0, "minimum composite confidence")
	archetypesCmd.Flags().BoolVar(&archNeedsReview, "needs-review", false, "only archetypes flagged for review")
	archetypesCmd.Flags().IntVar(&archLimit, "limit", 100, "maximum rows")
	archetypesCmd.Flags().BoolVar(&archJSON, "json", false, "emit JSON")
	archetypesCmd.AddCommand(archetypesShowCmd)
	rootCmd.AddCommand(archetypesCmd)
}
