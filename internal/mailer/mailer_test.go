package mailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	name  string
	err   error
	calls int
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(context.Context, string) error {
	f.calls++
	return f.err
}

// writeDigestFixture lays out a rendered report directory: the digest HTML
// plus one staged image under data/.
func writeDigestFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report-2024-06-03.html")
	html := `<h1>Digest</h1><img src="data/P-1.jpg" alt="P-1">`
	require.NoError(t, os.WriteFile(reportPath, []byte(html), 0o644))
	assetsDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "P-1.jpg"), []byte("jpeg-bytes"), 0o644))
	return reportPath
}

func TestMailerPrefersAPI(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	api := &fakeSender{name: "addy"}
	m := New(Options{}, smtp, api, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "report.html"))
	assert.Equal(t, 1, api.calls)
	assert.Zero(t, smtp.calls)
}

func TestMailerFallsBackToSMTP(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	api := &fakeSender{name: "addy", err: assert.AnError}
	m := New(Options{}, smtp, api, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "report.html"))
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, 1, smtp.calls)
}

func TestMailerAddyOnlySkipsFallback(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	api := &fakeSender{name: "addy", err: assert.AnError}
	m := New(Options{AddyOnly: true}, smtp, api, zap.NewNop())

	err := m.Send(context.Background(), "report.html")
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, smtp.calls)
}

func TestMailerRequireAddySkipsFallback(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	api := &fakeSender{name: "addy", err: assert.AnError}
	m := New(Options{RequireAddy: true}, smtp, api, zap.NewNop())

	err := m.Send(context.Background(), "report.html")
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, smtp.calls)
}

func TestMailerForceSMTP(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	api := &fakeSender{name: "addy"}
	m := New(Options{ForceSMTP: true}, smtp, api, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "report.html"))
	assert.Zero(t, api.calls)
	assert.Equal(t, 1, smtp.calls)
}

func TestMailerWithoutAPIUsesSMTP(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	m := New(Options{}, smtp, nil, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "report.html"))
	assert.Equal(t, 1, smtp.calls)
}

func TestMailerRequireAddyUnconfigured(t *testing.T) {
	smtp := &fakeSender{name: "smtp"}
	m := New(Options{RequireAddy: true}, smtp, nil, zap.NewNop())

	err := m.Send(context.Background(), "report.html")
	require.ErrorContains(t, err, "not configured")
	assert.Zero(t, smtp.calls)
}

func TestMailerNoTransportsConfigured(t *testing.T) {
	m := New(Options{}, nil, nil, zap.NewNop())

	err := m.Send(context.Background(), "report.html")
	require.ErrorContains(t, err, "no mail transport configured")
}

func TestMailerAPIFailureWithoutSMTP(t *testing.T) {
	api := &fakeSender{name: "addy", err: assert.AnError}
	m := New(Options{}, nil, api, zap.NewNop())

	err := m.Send(context.Background(), "report.html")
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, api.calls)
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"},
		recipients(" a@example.com, b@example.com ,"))
	assert.Empty(t, recipients(""))
}

func TestMimeForAsset(t *testing.T) {
	assert.Equal(t, "image/jpeg", mimeForAsset("P-1.jpg"))
	assert.Equal(t, "image/jpeg", mimeForAsset("P-1.JPEG"))
	assert.Equal(t, "image/png", mimeForAsset("map.png"))
	assert.Equal(t, "image/gif", mimeForAsset("pin.gif"))
}

func TestReportAssetsMissingDir(t *testing.T) {
	assets, err := reportAssets(filepath.Join(t.TempDir(), "report.html"))
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestReportAssetsFiltersByExtension(t *testing.T) {
	reportPath := writeDigestFixture(t)
	assetsDir := filepath.Join(filepath.Dir(reportPath), "data")
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "notes.txt"), []byte("x"), 0o644))

	assets, err := reportAssets(reportPath)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "P-1.jpg", assets[0].Name)
}
