package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newSendCmd creates the 'send' subcommand: deliver an already rendered
// digest through the configured mail transport.
func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <report.html>",
		Short: "Deliver an already rendered digest",
		Long: `Sends an existing digest file through the configured mail transport.
Inline images are picked up from the report's sibling data/ directory, so
send the file from where the report command wrote it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Mailer().Send(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", filepath.Base(args[0]))
			return nil
		},
	}
	cmd.Flags().String("addy-key", "", "mail API key")
	cmd.Flags().Bool("addy-only", false, "fail instead of falling back to SMTP")
	cmd.Flags().Bool("force-smtp", false, "skip the mail API and use SMTP directly")
	cmd.Flags().String("smtp-host", "", "SMTP relay host")
	cmd.Flags().Int("smtp-port", 587, "SMTP relay port")
	cmd.Flags().String("smtp-user", "", "SMTP username")
	cmd.Flags().String("smtp-pass", "", "SMTP password")
	cmd.Flags().String("from", "", "sender address")
	cmd.Flags().String("to", "", "recipient addresses, comma separated")
	return cmd
}
