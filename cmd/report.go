package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newReportCmd creates the 'report' subcommand: render a digest from already
// persisted records without mailing it.
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the digest for a day without mailing it",
		Long: `Renders the HTML digest for one day from the record store and prints
the file path. The day defaults to yesterday; weekend days are refused
because no digest is normally produced for them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dateStr, _ := cmd.Flags().GetString("date")
			force, _ := cmd.Flags().GetBool("force")

			day, err := resolveReportDay(dateStr, time.Now().UTC())
			if err != nil {
				return err
			}
			if wd := day.Weekday(); !force && (wd == time.Saturday || wd == time.Sunday) {
				return fmt.Errorf("%s is a weekend day, use --force to render it anyway",
					day.Format("2006-01-02"))
			}

			path, err := a.Renderer().Render(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().String("date", "", "report day as YYYY-MM-DD (default yesterday)")
	cmd.Flags().Bool("force", false, "render weekend days too")
	return cmd
}

// resolveReportDay parses the --date value, defaulting to the day before now.
func resolveReportDay(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		y := now.AddDate(0, 0, -1)
		return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --date: %w", err)
	}
	return day, nil
}
