package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/synth"
)

var (
	matCompany   string
	matMetro     string
	matRole      string
	matSeniority string
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Synthesize one archetype cell on demand",
	Long:  "Materializes a single company/metro/role/seniority cell outside a batch run. A cell with no direct evidence still yields a prior-only record when a macro prior covers the role and metro.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		key := model.ArchetypeKey{
			Company:   matCompany,
			Metro:     matMetro,
			Role:      matRole,
			Seniority: model.Seniority(matSeniority),
		}
		res, err := env.Engine.Materialize(ctx, key, "")
		if err != nil {
			return err
		}
		if res.State == synth.StateUnseen {
			fmt.Printf("no evidence and no prior for %s\n", key.String())
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Archetype)
	},
}

func init() {
	materializeCmd.Flags().StringVar(&matCompany, "company", "", "company id")
	materializeCmd.Flags().StringVar(&matMetro, "metro", "", "metro id")
	materializeCmd.Flags().StringVar(&matRole, "role", "", "canonical role id")
	materializeCmd.Flags().StringVar(&matSeniority, "seniority", string(model.SeniorityMid), "seniority band")
	_ = materializeCmd.MarkFlagRequired("company")
	_ = materializeCmd.MarkFlagRequired("metro")
	_ = materializeCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(materializeCmd)
}
