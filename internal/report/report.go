// Package report renders the daily permit digest: a standalone HTML file
// plus a data/ directory of staged thumbnails so the file can be mailed or
// copied as a unit. Thumbnail references use relative data/ paths, which is
// what the mail transports rewrite to inline images.
package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"permitwatch/internal/artifacts"
	"permitwatch/internal/store"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// Config drives the renderer.
type Config struct {
	OutDir     string
	SkipThumbs bool
}

type permitSource interface {
	PermitsOn(ctx context.Context, day time.Time) ([]store.Permit, error)
}

// Renderer builds daily digests from the record store.
type Renderer struct {
	cfg     Config
	permits permitSource
	assets  artifacts.Store
	logger  *zap.Logger
}

// NewRenderer assembles a Renderer.
func NewRenderer(cfg Config, permits permitSource, assets artifacts.Store, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, permits: permits, assets: assets, logger: logger}
}

// FileName returns the digest file name for a day.
func FileName(day time.Time) string {
	return "report-" + day.Format("2006-01-02") + ".html"
}

// Title returns the digest title for a day.
func Title(day time.Time) string {
	return "ePermits updates for " + day.Format("2006-01-02")
}

type item struct {
	PermitNumber string
	Address      string
	Owner        string
	HasCoords    bool
	Lat          float64
	Lon          float64
	Thumb        string
	ScrapedAt    string
}

type marker struct {
	PermitNumber string  `json:"permit"`
	Address      string  `json:"address"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}

type digest struct {
	Title   string
	Items   []item
	Markers []marker
}

// Render writes the digest for day and returns the HTML file's path. The
// data/ assets directory is created even when empty so the output layout is
// stable for downstream mailing.
func (r *Renderer) Render(ctx context.Context, day time.Time) (string, error) {
	permits, err := r.permits.PermitsOn(ctx, day)
	if err != nil {
		return "", fmt.Errorf("load permits for %s: %w", day.Format("2006-01-02"), err)
	}

	assetsDir := filepath.Join(r.cfg.OutDir, "data")
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return "", fmt.Errorf("create report assets dir: %w", err)
	}

	d := digest{Title: Title(day)}
	for _, p := range permits {
		it := item{
			PermitNumber: p.PermitNumber,
			Address:      p.Address,
			Owner:        p.Detail("owner"),
			ScrapedAt:    p.ScrapedAt.UTC().Format("15:04 MST"),
		}
		if p.Lat != nil && p.Lon != nil {
			it.HasCoords = true
			it.Lat, it.Lon = *p.Lat, *p.Lon
			d.Markers = append(d.Markers, marker{
				PermitNumber: p.PermitNumber,
				Address:      p.Address,
				Lat:          *p.Lat,
				Lon:          *p.Lon,
			})
		}
		if !r.cfg.SkipThumbs && p.ThumbnailPath != "" {
			if name := r.stageThumbnail(ctx, assetsDir, p.ThumbnailPath); name != "" {
				it.Thumb = "data/" + name
			}
		}
		d.Items = append(d.Items, it)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}

	outPath := filepath.Join(r.cfg.OutDir, FileName(day))
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write digest: %w", err)
	}
	r.logger.Info("wrote daily digest",
		zap.String("path", outPath),
		zap.Int("records", len(d.Items)),
		zap.Int("geocoded", len(d.Markers)),
	)
	return outPath, nil
}

// stageThumbnail copies one thumbnail out of the artifact store into the
// report's data/ directory and returns its file name, or "" when the
// artifact is unavailable. A missing thumbnail never fails the digest.
func (r *Renderer) stageThumbnail(ctx context.Context, assetsDir, key string) string {
	data, err := r.assets.Get(ctx, key)
	if err != nil {
		r.logger.Debug("thumbnail artifact unavailable",
			zap.String("key", key), zap.Error(err))
		return ""
	}
	name := path.Base(key)
	if err := os.WriteFile(filepath.Join(assetsDir, name), data, 0o644); err != nil {
		r.logger.Warn("staging thumbnail failed",
			zap.String("key", key), zap.Error(err))
		return ""
	}
	return name
}
