package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"permitwatch/internal/mockmail"
)

// newMockMailCmd creates the 'mockmail' subcommand: a local stand-in for the
// Addy mail API that captures whatever the sender posts.
func newMockMailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mockmail",
		Short: "Serve a local mock of the mail API",
		Long: `Runs a local HTTP server that accepts mail API posts and writes each
one to addy_mock.json in the data directory. Point mail.addy.url at it to
exercise delivery without sending real mail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv := mockmail.NewServer(a.Config().DataDir, a.Logger().Named("mockmail"))
			a.Logger().Info("mail captures will be written",
				zap.String("path", srv.CapturePath()))
			return serveHTTP(cmd.Context(), a.Logger(), "mock mail", a.Config().Server.MockMailAddr, srv.Handler())
		},
	}
}
