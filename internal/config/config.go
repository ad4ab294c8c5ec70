// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences a pipeline run. All values
// originate from Viper so they can come from the config file, environment
// variables, or CLI flags.
type Config struct {
	Development bool
	DataDir     string

	Site      SiteConfig
	Scrape    ScrapeConfig
	WebClient WebClientConfig
	Geocoder  GeocoderConfig
	Imagery   ImageryConfig
	Retry     RetryConfig
	Store     StoreConfig
	Artifacts ArtifactsConfig
	Report    ReportConfig
	Mail      MailConfig
	Notify    NotifyConfig
	Backfill  BackfillConfig
	Server    ServerConfig
}

// SiteConfig points the scraper at the permitting site. Selector lists are
// ordered candidates; the first match wins. The site's markup is brittle by
// nature, so all of this is overridable.
type SiteConfig struct {
	LoginURL    string
	SearchURL   string
	Username    string
	Password    string
	SearchQuery string
	Selectors   SelectorConfig
}

// SelectorConfig holds the site-specific CSS selectors.
type SelectorConfig struct {
	UsernameFields     []string
	PasswordFields     []string
	SubmitControls     []string
	SubmitTexts        []string
	SearchField        string
	SearchButton       string
	ResultsLinks       string
	NextControls       []string
	NextTexts          []string
	PermitNumberFields []string
	AddressFields      []string
	OwnerFields        []string
}

// ScrapeConfig bounds one orchestrator run.
type ScrapeConfig struct {
	MaxPages    int
	MaxItems    int
	PagePause   time.Duration
	NavTimeout  time.Duration
	StepTimeout time.Duration
	Headless    bool
}

// WebClientConfig shapes the outbound HTTP client.
type WebClientConfig struct {
	UserAgent     string
	RespectRobots bool
	DomainDelay   time.Duration
	MaxBodyBytes  int64
}

// GeocoderConfig points at the geocoding service.
type GeocoderConfig struct {
	URL     string
	Email   string
	Timeout time.Duration
	Pause   time.Duration
}

// ImageryConfig drives thumbnail generation.
type ImageryConfig struct {
	StreetViewURL     string
	APIKey            string
	TileURL           string
	Zoom              int
	Tiles             int
	TileSize          int
	Width             int
	Height            int
	StreetViewTimeout time.Duration
	TileTimeout       time.Duration
}

// RetryConfig parameterizes the shared backoff policy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// StoreConfig selects and locates the record store.
type StoreConfig struct {
	Provider string // "sqlite" or "postgres"
	Path     string // sqlite file; derived from DataDir when empty
	DSN      string // postgres connection string
}

// ArtifactsConfig selects the blob store for thumbnails and report assets.
type ArtifactsConfig struct {
	Provider string // "local", "gcs", or "memory"
	Bucket   string
	Prefix   string
}

// ReportConfig drives the daily digest renderer.
type ReportConfig struct {
	OutDir     string // derived from DataDir when empty
	SkipThumbs bool
}

// MailConfig covers both delivery transports and the selection flags.
type MailConfig struct {
	SMTP        SMTPConfig
	From        string
	To          string
	Addy        AddyConfig
	AddyOnly    bool
	RequireAddy bool
	ForceSMTP   bool
}

// SMTPConfig is the classic transport.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
}

// AddyConfig is the HTTP mail-API transport.
type AddyConfig struct {
	URL     string
	Key     string
	Timeout time.Duration
}

// NotifyConfig selects the run-summary publisher.
type NotifyConfig struct {
	Provider string // "log", "pubsub", or "noop"
	Project  string
	Topic    string
}

// BackfillConfig bounds the thumbnail backfill pass.
type BackfillConfig struct {
	Limit       int
	Concurrency int
}

// ServerConfig holds listen addresses for the ops and mock-mail servers.
type ServerConfig struct {
	Addr         string
	MockMailAddr string
}

// Load constructs a Config by reading from Viper.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Development: v.GetBool("runtime.development"),
		DataDir:     v.GetString("runtime.data_dir"),
		Site: SiteConfig{
			LoginURL:    v.GetString("site.login_url"),
			SearchURL:   v.GetString("site.search_url"),
			Username:    v.GetString("site.username"),
			Password:    v.GetString("site.password"),
			SearchQuery: v.GetString("site.search_query"),
			Selectors: SelectorConfig{
				UsernameFields:     v.GetStringSlice("site.selectors.username_fields"),
				PasswordFields:     v.GetStringSlice("site.selectors.password_fields"),
				SubmitControls:     v.GetStringSlice("site.selectors.submit_controls"),
				SubmitTexts:        v.GetStringSlice("site.selectors.submit_texts"),
				SearchField:        v.GetString("site.selectors.search_field"),
				SearchButton:       v.GetString("site.selectors.search_button"),
				ResultsLinks:       v.GetString("site.selectors.results_links"),
				NextControls:       v.GetStringSlice("site.selectors.next_controls"),
				NextTexts:          v.GetStringSlice("site.selectors.next_texts"),
				PermitNumberFields: v.GetStringSlice("site.selectors.permit_number_fields"),
				AddressFields:      v.GetStringSlice("site.selectors.address_fields"),
				OwnerFields:        v.GetStringSlice("site.selectors.owner_fields"),
			},
		},
		Scrape: ScrapeConfig{
			MaxPages:    v.GetInt("scrape.max_pages"),
			MaxItems:    v.GetInt("scrape.max_items"),
			PagePause:   v.GetDuration("scrape.page_pause"),
			NavTimeout:  v.GetDuration("scrape.nav_timeout"),
			StepTimeout: v.GetDuration("scrape.step_timeout"),
			Headless:    v.GetBool("scrape.headless"),
		},
		WebClient: WebClientConfig{
			UserAgent:     v.GetString("webclient.user_agent"),
			RespectRobots: v.GetBool("webclient.respect_robots"),
			DomainDelay:   v.GetDuration("webclient.domain_delay"),
			MaxBodyBytes:  v.GetInt64("webclient.max_body_bytes"),
		},
		Geocoder: GeocoderConfig{
			URL:     v.GetString("geocoder.url"),
			Email:   v.GetString("geocoder.email"),
			Timeout: v.GetDuration("geocoder.timeout"),
			Pause:   v.GetDuration("geocoder.pause"),
		},
		Imagery: ImageryConfig{
			StreetViewURL:     v.GetString("imagery.streetview_url"),
			APIKey:            v.GetString("imagery.api_key"),
			TileURL:           v.GetString("imagery.tile_url"),
			Zoom:              v.GetInt("imagery.zoom"),
			Tiles:             v.GetInt("imagery.tiles"),
			TileSize:          v.GetInt("imagery.tile_size"),
			Width:             v.GetInt("imagery.width"),
			Height:            v.GetInt("imagery.height"),
			StreetViewTimeout: v.GetDuration("imagery.streetview_timeout"),
			TileTimeout:       v.GetDuration("imagery.tile_timeout"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
		},
		Store: StoreConfig{
			Provider: strings.ToLower(v.GetString("store.provider")),
			Path:     v.GetString("store.path"),
			DSN:      v.GetString("store.dsn"),
		},
		Artifacts: ArtifactsConfig{
			Provider: strings.ToLower(v.GetString("artifacts.provider")),
			Bucket:   v.GetString("artifacts.bucket"),
			Prefix:   v.GetString("artifacts.prefix"),
		},
		Report: ReportConfig{
			OutDir:     v.GetString("report.out_dir"),
			SkipThumbs: v.GetBool("report.skip_thumbs"),
		},
		Mail: MailConfig{
			SMTP: SMTPConfig{
				Host: v.GetString("mail.smtp.host"),
				Port: v.GetInt("mail.smtp.port"),
				User: v.GetString("mail.smtp.user"),
				Pass: v.GetString("mail.smtp.pass"),
			},
			From: v.GetString("mail.from"),
			To:   v.GetString("mail.to"),
			Addy: AddyConfig{
				URL:     v.GetString("mail.addy.url"),
				Key:     v.GetString("mail.addy.key"),
				Timeout: v.GetDuration("mail.addy.timeout"),
			},
			AddyOnly:    v.GetBool("mail.addy_only"),
			RequireAddy: v.GetBool("mail.require_addy"),
			ForceSMTP:   v.GetBool("mail.force_smtp"),
		},
		Notify: NotifyConfig{
			Provider: strings.ToLower(v.GetString("notify.provider")),
			Project:  v.GetString("notify.project"),
			Topic:    v.GetString("notify.topic"),
		},
		Backfill: BackfillConfig{
			Limit:       v.GetInt("backfill.limit"),
			Concurrency: v.GetInt("backfill.concurrency"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			MockMailAddr: v.GetString("mockmail.addr"),
		},
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "epermits.db")
	}
	if cfg.Report.OutDir == "" {
		cfg.Report.OutDir = filepath.Join(cfg.DataDir, "reports")
	}

	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("runtime.data_dir must be set")
	}
	if err := requireURL("site.login_url", c.Site.LoginURL); err != nil {
		return err
	}
	if err := requireURL("site.search_url", c.Site.SearchURL); err != nil {
		return err
	}
	if c.Site.SearchQuery == "" {
		return fmt.Errorf("site.search_query must be set")
	}
	if c.Scrape.MaxPages <= 0 {
		return fmt.Errorf("scrape.max_pages must be > 0")
	}
	if c.Scrape.MaxItems <= 0 {
		return fmt.Errorf("scrape.max_items must be > 0")
	}
	if c.Scrape.NavTimeout <= 0 || c.Scrape.StepTimeout <= 0 {
		return fmt.Errorf("scrape timeouts must be > 0")
	}
	if c.WebClient.UserAgent == "" {
		return fmt.Errorf("webclient.user_agent must be set")
	}
	if c.WebClient.MaxBodyBytes <= 0 {
		return fmt.Errorf("webclient.max_body_bytes must be > 0")
	}
	if err := requireURL("geocoder.url", c.Geocoder.URL); err != nil {
		return err
	}
	if c.Geocoder.Timeout <= 0 {
		return fmt.Errorf("geocoder.timeout must be > 0")
	}
	if err := requireURL("imagery.streetview_url", c.Imagery.StreetViewURL); err != nil {
		return err
	}
	if err := requireURL("imagery.tile_url", c.Imagery.TileURL); err != nil {
		return err
	}
	if c.Imagery.Zoom < 0 || c.Imagery.Zoom > 22 {
		return fmt.Errorf("imagery.zoom must be between 0 and 22")
	}
	if c.Imagery.Tiles < 1 {
		return fmt.Errorf("imagery.tiles must be >= 1")
	}
	if c.Imagery.TileSize <= 0 {
		return fmt.Errorf("imagery.tile_size must be > 0")
	}
	if c.Imagery.Width <= 0 || c.Imagery.Height <= 0 {
		return fmt.Errorf("imagery output size must be > 0")
	}
	if c.Imagery.Width > c.Imagery.Tiles*c.Imagery.TileSize || c.Imagery.Height > c.Imagery.Tiles*c.Imagery.TileSize {
		return fmt.Errorf("imagery output size cannot exceed the stitched canvas")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}
	switch c.Store.Provider {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the sqlite provider")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("store.provider must be sqlite or postgres, got %q", c.Store.Provider)
	}
	switch c.Artifacts.Provider {
	case "local", "memory":
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("artifacts.provider must be local, gcs, or memory, got %q", c.Artifacts.Provider)
	}
	if err := requireURL("mail.addy.url", c.Mail.Addy.URL); err != nil {
		return err
	}
	switch c.Notify.Provider {
	case "log", "noop":
	case "pubsub":
		if c.Notify.Project == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project and notify.topic must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be log, pubsub, or noop, got %q", c.Notify.Provider)
	}
	if c.Backfill.Limit < 0 {
		return fmt.Errorf("backfill.limit must be >= 0")
	}
	if c.Backfill.Concurrency < 1 {
		return fmt.Errorf("backfill.concurrency must be >= 1")
	}
	return nil
}

func requireURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
