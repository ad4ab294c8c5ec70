// Package cmd defines the permitwatch CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"permitwatch/internal/app"
	"permitwatch/internal/config"
	"permitwatch/internal/mailer"
	"permitwatch/internal/report"
	"permitwatch/internal/store"
	pkgconfig "permitwatch/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application container the commands use. An
// interface so tests can substitute their own factory without building the
// real services.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Store() store.Store
	Renderer() *report.Renderer
	Mailer() *mailer.Mailer
	Pipeline() *app.Pipeline
}

// newApp is the application factory. A variable so tests can replace it.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// flagBindings maps command-line flags onto the configuration keys they
// override, so a flag set on a subcommand wins over environment and file
// values. Bound per invocation because commands share flag names.
var flagBindings = map[string]string{
	"max-items":   "scrape.max_items",
	"max-pages":   "scrape.max_pages",
	"skip-thumbs": "report.skip_thumbs",
	"addy-key":    "mail.addy.key",
	"addy-only":   "mail.addy_only",
	"force-smtp":  "mail.force_smtp",
	"smtp-host":   "mail.smtp.host",
	"smtp-port":   "mail.smtp.port",
	"smtp-user":   "mail.smtp.user",
	"smtp-pass":   "mail.smtp.pass",
	"from":        "mail.from",
	"to":          "mail.to",
}

func bindCommandFlags(cmd *cobra.Command) error {
	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// newRootCmd creates and configures the root command. The application
// container is built once in PersistentPreRunE, after configuration is
// loaded, and handed to subcommands through the command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permitwatch",
		Short: "Denver ePermits scraping and reporting pipeline",
		Long: `permitwatch walks the Denver ePermits portal with a headless browser,
enriches each permit with coordinates and map imagery, and mails a daily
HTML digest of what changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindCommandFlags(cmd); err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
		pkgconfig.InitConfig()
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., $HOME/.permitwatch, /etc/permitwatch)")

	cmd.AddCommand(
		newRunDailyCmd(),
		newScrapeCmd(),
		newReportCmd(),
		newSendCmd(),
		newThumbsCmd(),
		newRecentCmd(),
		newExportCmd(),
		newServeCmd(),
		newMockMailCmd(),
	)
	return cmd
}

// resolveApp retrieves the application container placed in the context by
// the root command's PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so a running scrape or server can wind down.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "permitwatch:", err)
		os.Exit(1)
	}
}
