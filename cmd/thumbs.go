package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newThumbsCmd creates the 'thumbs' subcommand, a manual trigger for the
// thumbnail backfill pass.
func newThumbsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thumbs",
		Short: "Backfill missing permit thumbnails",
		Long: `Scans the most recent permits for rows with coordinates but no usable
thumbnail artifact and generates the missing images.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			res, err := a.Pipeline().Backfill(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d filled=%d skipped=%d errors=%d\n",
				res.Scanned, res.Filled, res.Skipped, res.Errors)
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "permits to scan (0 uses the configured limit)")
	return cmd
}
