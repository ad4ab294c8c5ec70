package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newScrapeCmd creates the 'scrape' subcommand: one scrape run, recorded in
// run history, without rendering or mailing anything.
func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one scrape without rendering or mailing",
		Long: `Scrapes the permit site once and persists what it finds. Useful for
re-running a failed morning scrape; the digest picks the records up the
next day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := a.Pipeline().ScrapeOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: pages=%d items=%d errors=%d\n",
				sum.RunID, sum.Status, sum.Pages, sum.Items, sum.Errors)
			return nil
		},
	}
	cmd.Flags().Int("max-items", 200, "cap on permit detail pages per run")
	cmd.Flags().Int("max-pages", 25, "cap on result pages to walk")
	return cmd
}
