package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"permitwatch/internal/store"
)

// newRecentCmd creates the 'recent' subcommand: a quick terminal view of the
// latest scraped permits.
func newRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently scraped permits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			permits, err := a.Store().RecentPermits(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPermitTable(permits))
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "permits to show")
	return cmd
}

func renderPermitTable(permits []store.Permit) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Permit", "Address", "Owner", "Coords", "Thumb", "Scraped"})
	for _, p := range permits {
		coords := ""
		if p.Lat != nil && p.Lon != nil {
			coords = fmt.Sprintf("%.5f,%.5f", *p.Lat, *p.Lon)
		}
		thumb := ""
		if p.ThumbnailPath != "" {
			thumb = "yes"
		}
		tw.AppendRow(table.Row{
			p.PermitNumber,
			p.Address,
			p.Detail("owner"),
			coords,
			thumb,
			p.ScrapedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	return tw.Render()
}
