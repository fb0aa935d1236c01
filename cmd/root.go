package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/config"
	"github.com/jobsignal/archetype-cli/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "archetype",
	Short: "Employment archetype synthesis pipeline",
	Long:  "Ingests payroll extracts, job postings, and visa filings, classifies titles against a versioned taxonomy, and synthesizes confidence-scored employment archetypes per company, metro, role, and seniority.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// A partial run is still a usable run; its exit code lets schedulers
		// tell "some sources failed" from a hard failure.
		if errors.Is(err, pipeline.ErrPartial) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
