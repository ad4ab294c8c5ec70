package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
)

// permitRow flattens a permit for CSV export.
type permitRow struct {
	PermitNumber string    `csv:"permit_number"`
	Address      string    `csv:"address"`
	Owner        string    `csv:"owner"`
	Lat          *float64  `csv:"lat"`
	Lon          *float64  `csv:"lon"`
	Thumbnail    string    `csv:"thumbnail"`
	ScrapedAt    time.Time `csv:"scraped_at"`
}

// newExportCmd creates the 'export' subcommand: CSV export of recent permits
// for spreadsheet users.
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recent permits as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			out, _ := cmd.Flags().GetString("out")

			permits, err := a.Store().RecentPermits(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([]permitRow, 0, len(permits))
			for _, p := range permits {
				rows = append(rows, permitRow{
					PermitNumber: p.PermitNumber,
					Address:      p.Address,
					Owner:        p.Detail("owner"),
					Lat:          p.Lat,
					Lon:          p.Lon,
					Thumbnail:    p.ThumbnailPath,
					ScrapedAt:    p.ScrapedAt.UTC(),
				})
			}
			data, err := csvutil.Marshal(rows)
			if err != nil {
				return fmt.Errorf("encode csv: %w", err)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Int("limit", 100, "permits to export")
	cmd.Flags().String("out", "", "output file (default stdout)")
	return cmd
}
