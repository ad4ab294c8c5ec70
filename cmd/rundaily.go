package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRunDailyCmd creates the 'rundaily' subcommand, the entry point the cron
// deployment invokes once per morning.
func newRunDailyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rundaily",
		Short: "Run the full daily pipeline: scrape, digest, deliver",
		Long: `Runs one complete pipeline pass: scrape the permit site, backfill
missing thumbnails, render yesterday's digest, mail it, and publish the run
summary. Weekend report days end the run after the scrape.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := a.Pipeline().RunDaily(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: pages=%d items=%d errors=%d mailed=%t\n",
				sum.RunID, sum.Status, sum.Pages, sum.Items, sum.Errors, sum.Mailed)
			return nil
		},
	}
	cmd.Flags().Int("max-items", 200, "cap on permit detail pages per run")
	cmd.Flags().Bool("skip-thumbs", false, "skip thumbnail backfill and inline images")
	return cmd
}
