package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/pipeline"
)

var (
	ingestSources []string
	ingestMode    string
	ingestRunID   string
	ingestSince   string
	ingestUntil   string
	ingestLimit   int
	ingestJSON    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch sources, classify, and synthesize archetypes",
	Long:  "Runs the full pipeline: pulls every due source, stores raw observations, classifies them against the rule set, and synthesizes confidence-scored archetypes. Exits 3 when some sources failed but the rest were processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.Options{
			RunID:   ingestRunID,
			Mode:    model.RunMode(ingestMode),
			Sources: ingestSources,
			Limit:   ingestLimit,
		}
		if opts.Mode != model.RunModeFull && opts.Mode != model.RunModeIncremental {
			return eris.Errorf("unknown mode %q (want full or incremental)", ingestMode)
		}
		if ingestSince != "" {
			t, err := time.Parse("2006-01-02", ingestSince)
			if err != nil {
				return eris.Wrapf(err, "parse --since %q", ingestSince)
			}
			opts.Since = t
		}
		if ingestUntil != "" {
			t, err := time.Parse("2006-01-02", ingestUntil)
			if err != nil {
				return eris.Wrapf(err, "parse --until %q", ingestUntil)
			}
			opts.Until = t
		}

		summary, runErr := env.Engine.Run(ctx, opts)
		if summary != nil {
			if ingestJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(summary)
			} else {
				printSummary(summary)
			}
		}
		return runErr
	},
}

func printSummary(s *model.RunSummary) {
	zap.L().Info("run summary",
		zap.String("run_id", s.RunID),
		zap.String("status", string(s.Status)),
		zap.String("mode", string(s.Mode)),
		zap.String("rule_set", s.RuleSetVersion),
		zap.Int64("observations", s.ObservationsTotal),
		zap.Int("keys", s.KeysSynthesized),
		zap.Int("archetypes", s.ArchetypesWritten),
		zap.Int("review_items", s.ReviewItems),
		zap.Int64("unmatched", s.UnmatchedTotal))
	for _, src := range s.SortedSources() {
		zap.L().Info("source summary",
			zap.String("source", src.SourceID),
			zap.Int64("processed", src.Processed),
			zap.Int64("skipped", src.Skipped),
			zap.Int64("malformed", src.Malformed),
			zap.Int64("unmatched", src.Unmatched),
			zap.Bool("failed", src.Failed))
	}
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestSources, "sources", nil, "source ids to run (default: all due sources)")
	ingestCmd.Flags().StringVar(&ingestMode, "mode", "full", "full or incremental")
	ingestCmd.Flags().StringVar(&ingestRunID, "run-id", "", "reuse a run id to resume an interrupted run")
	ingestCmd.Flags().StringVar(&ingestSince, "since", "", "only observations with as-of date on or after (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestUntil, "until", "", "only observations with as-of date on or before (YYYY-MM-DD)")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "cap the number of observations synthesized")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "emit the run summary as JSON")
	rootCmd.AddCommand(ingestCmd)
}
