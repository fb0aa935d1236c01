package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jobsignal/archetype-cli/internal/model"
)

var (
	reviewStatus     string
	reviewLimit      int
	reviewJSON       bool
	reviewResolution string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve the review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review queue items",
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

		items, err := st.ListReviewItems(ctx, model.ReviewStatus(reviewStatus), reviewLimit)
		if err != nil {
			return err
		}

		if reviewJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		fmt.Printf("%-6s %-20s %-38s %5s  %s\n", "ID", "TYPE", "ARCHETYPE", "CONF", "ISSUE")
		for _, it := range items {
			fmt.Printf("%-6d %-20s %-38s %5.2f  %s\n",
				it.ID, it.ItemType, it.ArchetypeID, it.Confidence, it.IssueDescription)
		}
		return nil
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <item-id>",
	Short: "Mark a review item accepted or rejected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse item id %q", args[0])
		}
		status := model.ReviewStatus(reviewResolution)
		if status != model.ReviewAccepted && status != model.ReviewRejected {
			return eris.Errorf("unknown resolution %q (want accepted or rejected)", reviewResolution)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ResolveReviewItem(ctx, id, status); err != nil {
			return err
		}
		fmt.Printf("item %d marked %s\n", id, status)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", string(model.ReviewPending), "pending, accepted, or rejected")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum rows")
	reviewListCmd.Flags().BoolVar(&reviewJSON, "json", false, "emit JSON")
	reviewResolveCmd.Flags().StringVar(&reviewResolution, "status", "", "accepted or rejected")
	_ = reviewResolveCmd.MarkFlagRequired("status")

	reviewCmd.AddCommand(reviewListCmd, reviewResolveCmd)
	rootCmd.AddCommand(reviewCmd)
}
