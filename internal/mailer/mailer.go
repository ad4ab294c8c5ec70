// Package mailer delivers the rendered digest to its recipients. Two
// transports exist: a classic SMTP relay and the Addy HTTP mail API. The
// Mailer picks between them based on configuration and falls back from the
// API to SMTP unless told not to.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// plainFallback is the text/plain alternative shown by clients that refuse
// HTML mail.
const plainFallback = "This is an HTML report. If you see this text, your client does not support HTML."

// Sender delivers one rendered digest file.
type Sender interface {
	Name() string
	Send(ctx context.Context, reportPath string) error
}

// Options are the transport-selection flags.
type Options struct {
	AddyOnly    bool
	RequireAddy bool
	ForceSMTP   bool
}

// Mailer routes a digest to the configured transport. A nil sender means
// that transport is not configured.
type Mailer struct {
	opts   Options
	smtp   Sender
	api    Sender
	logger *zap.Logger
}

// New builds a Mailer.
func New(opts Options, smtp, api Sender, logger *zap.Logger) *Mailer {
	return &Mailer{opts: opts, smtp: smtp, api: api, logger: logger}
}

// Send delivers the digest at reportPath. The mail API is preferred whenever
// it is configured; SMTP takes over on API failure unless AddyOnly or
// RequireAddy forbids the fallback, and ForceSMTP skips the API outright.
func (m *Mailer) Send(ctx context.Context, reportPath string) error {
	if m.api != nil && (m.opts.AddyOnly || !m.opts.ForceSMTP) {
		err := m.api.Send(ctx, reportPath)
		if err == nil {
			return nil
		}
		if m.opts.AddyOnly || m.opts.RequireAddy || m.smtp == nil {
			return fmt.Errorf("send digest via %s: %w", m.api.Name(), err)
		}
		m.logger.Warn("mail api delivery failed, falling back to smtp",
			zap.Error(err),
		)
		return m.smtp.Send(ctx, reportPath)
	}
	if m.opts.AddyOnly || m.opts.RequireAddy {
		return errors.New("mail api delivery required but not configured")
	}
	if m.smtp == nil {
		return errors.New("no mail transport configured")
	}
	return m.smtp.Send(ctx, reportPath)
}

// asset is one inline image staged next to the digest.
type asset struct {
	Name string
	Path string
}

// reportAssets lists the images in the digest's data/ directory. The digest
// references them as "data/{name}", which each transport rewrites into a
// form its recipients can render.
func reportAssets(reportPath string) ([]asset, error) {
	dir := filepath.Join(filepath.Dir(reportPath), "data")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list report assets: %w", err)
	}
	var assets []asset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif":
			assets = append(assets, asset{
				Name: entry.Name(),
				Path: filepath.Join(dir, entry.Name()),
			})
		}
	}
	return assets, nil
}

// mimeForAsset maps an asset file name to the image MIME type used in data
// URIs.
func mimeForAsset(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "jpg" || ext == "jpeg" {
		return "image/jpeg"
	}
	return "image/" + ext
}

// recipients splits a comma-separated address list.
func recipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
