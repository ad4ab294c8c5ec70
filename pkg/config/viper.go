// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitConfig initializes the application's configuration using Viper.
// It loads a local .env file if one exists, sets defaults, defines the config
// file search paths, and binds environment variables (both the PERMITWATCH_*
// namespace and the legacy deployment variable names). Designed to be called
// once at application startup via cobra.OnInitialize.
func InitConfig() {
	// A .env next to the binary mirrors how the cron deployment ships its
	// credentials. Missing files are fine.
	_ = godotenv.Load()

	v := viper.GetViper()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/permitwatch/")
	v.AddConfigPath("$HOME/.permitwatch")

	SetDefaults(v)

	v.SetEnvPrefix("PERMITWATCH") // e.g. PERMITWATCH_SCRAPE_MAX_ITEMS=50
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	// Config file is optional; defaults plus environment cover a bare host.
	// A malformed file is not: fail loudly before any command runs with a
	// half-read configuration.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "permitwatch: error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// SetDefaults registers every configuration default on v. Exposed so tests
// can build an isolated Viper with the production defaults in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("runtime.development", false)
	v.SetDefault("runtime.data_dir", "./data")

	v.SetDefault("site.login_url", "https://aca-prod.accela.com/DENVER/Login.aspx")
	v.SetDefault("site.search_url", "https://aca-prod.accela.com/DENVER/Cap/CapHome.aspx?module=Development")
	v.SetDefault("site.search_query", "%demo%")
	v.SetDefault("site.selectors.username_fields", []string{"#username"})
	v.SetDefault("site.selectors.password_fields", []string{"#passwordRequired"})
	v.SetDefault("site.selectors.submit_controls", []string{})
	v.SetDefault("site.selectors.submit_texts", []string{"SIGN IN"})
	v.SetDefault("site.selectors.search_field", "#ctl00_PlaceHolderMain_generalSearchForm_txtGSPermitNumber")
	v.SetDefault("site.selectors.search_button", "#ctl00_PlaceHolderMain_btnNewSearch")
	v.SetDefault("site.selectors.results_links", "#ctl00_PlaceHolderMain_dgvPermitList_gdvPermitList td a")
	v.SetDefault("site.selectors.next_controls", []string{`a[aria-label="Next"]`, `a[title="Next"]`, "a.pager-next"})
	v.SetDefault("site.selectors.next_texts", []string{"Next"})
	v.SetDefault("site.selectors.permit_number_fields", []string{"#ctl00_PlaceHolderMain_lblCapID", "span.permit-number"})
	v.SetDefault("site.selectors.address_fields", []string{"#ctl00_PlaceHolderMain_lblAddress", "div.address"})
	v.SetDefault("site.selectors.owner_fields", []string{"#ctl00_PlaceHolderMain_lblOwner"})

	v.SetDefault("scrape.max_pages", 25)
	v.SetDefault("scrape.max_items", 200)
	v.SetDefault("scrape.page_pause", "1s")
	v.SetDefault("scrape.nav_timeout", "15s")
	v.SetDefault("scrape.step_timeout", "10s")
	v.SetDefault("scrape.headless", true)

	v.SetDefault("webclient.user_agent", "epermits-scraper/1.0 (+https://example.com)")
	v.SetDefault("webclient.respect_robots", false)
	v.SetDefault("webclient.domain_delay", "0s")
	v.SetDefault("webclient.max_body_bytes", 5*1024*1024)

	v.SetDefault("geocoder.url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocoder.email", "")
	v.SetDefault("geocoder.timeout", "15s")
	v.SetDefault("geocoder.pause", "1s")

	v.SetDefault("imagery.streetview_url", "https://maps.googleapis.com/maps/api/streetview")
	v.SetDefault("imagery.api_key", "")
	v.SetDefault("imagery.tile_url", "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile")
	v.SetDefault("imagery.zoom", 18)
	v.SetDefault("imagery.tiles", 3)
	v.SetDefault("imagery.tile_size", 256)
	v.SetDefault("imagery.width", 400)
	v.SetDefault("imagery.height", 300)
	v.SetDefault("imagery.streetview_timeout", "20s")
	v.SetDefault("imagery.tile_timeout", "10s")

	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")

	v.SetDefault("store.provider", "sqlite")
	v.SetDefault("store.path", "") // derived from runtime.data_dir when empty
	v.SetDefault("store.dsn", "")

	v.SetDefault("artifacts.provider", "local")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "")

	v.SetDefault("report.out_dir", "") // derived from runtime.data_dir when empty
	v.SetDefault("report.skip_thumbs", false)

	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.user", "")
	v.SetDefault("mail.smtp.pass", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.to", "")
	v.SetDefault("mail.addy.url", "https://api.addy.io/v1/messages")
	v.SetDefault("mail.addy.key", "")
	v.SetDefault("mail.addy.timeout", "20s")
	v.SetDefault("mail.addy_only", false)
	v.SetDefault("mail.require_addy", false)
	v.SetDefault("mail.force_smtp", false)

	v.SetDefault("notify.provider", "log")
	v.SetDefault("notify.project", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("backfill.limit", 30)
	v.SetDefault("backfill.concurrency", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("mockmail.addr", "127.0.0.1:8025")
}

// bindLegacyEnv keeps the original deployment's environment variables working
// alongside the PERMITWATCH_* namespace.
func bindLegacyEnv(v *viper.Viper) {
	aliases := map[string]string{
		"site.username":      "EPERMITS_USERNAME",
		"site.password":      "EPERMITS_PASSWORD",
		"runtime.data_dir":   "DATA_DIR",
		"geocoder.url":       "GEOCODER_URL",
		"geocoder.email":     "GEOCODER_EMAIL",
		"imagery.api_key":    "GOOGLE_API_KEY",
		"scrape.max_items":   "MAX_SCRAPE_ITEMS",
		"report.skip_thumbs": "SKIP_THUMBS",
		"mail.smtp.host":     "SMTP_HOST",
		"mail.smtp.port":     "SMTP_PORT",
		"mail.smtp.user":     "SMTP_USER",
		"mail.smtp.pass":     "SMTP_PASS",
		"mail.from":          "EMAIL_FROM",
		"mail.to":            "EMAIL_TO",
		"mail.addy.key":      "ADDY_API_KEY",
		"mail.addy.url":      "ADDY_API_URL",
		"mail.addy_only":     "ADDY_ONLY",
		"mail.require_addy":  "REQUIRE_ADDY",
		"mail.force_smtp":    "FORCE_SMTP",
	}
	replacer := strings.NewReplacer(".", "_")
	for key, env := range aliases {
		_ = v.BindEnv(key, strings.ToUpper("PERMITWATCH_"+replacer.Replace(key)), env)
	}
}
