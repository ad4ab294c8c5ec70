package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"permitwatch/internal/config"
	"permitwatch/internal/retry"
	"permitwatch/internal/webclient"
)

type fakePoster struct {
	mu      sync.Mutex
	calls   int
	urls    []string
	bodies  [][]byte
	headers []http.Header
	respond func(call int) (webclient.Response, error)
}

func (f *fakePoster) PostJSON(_ context.Context, rawURL string, body []byte, headers http.Header) (webclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	f.urls = append(f.urls, rawURL)
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	f.headers = append(f.headers, headers.Clone())
	if f.respond != nil {
		return f.respond(call)
	}
	return webclient.Response{StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
}

func newTestAddySender(client httpPoster) *AddySender {
	cfg := config.AddyConfig{
		URL:     "https://mail.test/v1/messages",
		Key:     "addy-key",
		Timeout: time.Second,
	}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return NewAddySender(cfg, "permits@example.com", "ops@example.com", client, policy, zap.NewNop())
}

func TestAddySendPostsPayload(t *testing.T) {
	reportPath := writeDigestFixture(t)
	poster := &fakePoster{}
	s := newTestAddySender(poster)

	require.NoError(t, s.Send(context.Background(), reportPath))
	require.Equal(t, 1, poster.calls)
	assert.Equal(t, "https://mail.test/v1/messages", poster.urls[0])
	assert.Equal(t, "Bearer addy-key", poster.headers[0].Get("Authorization"))

	var payload addyPayload
	require.NoError(t, json.Unmarshal(poster.bodies[0], &payload))
	assert.Equal(t, "permits@example.com", payload.From)
	assert.Equal(t, "ops@example.com", payload.To)
	assert.Equal(t, "ePermits report report-2024-06-03.html", payload.Subject)

	wantURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	assert.Contains(t, payload.HTML, wantURI)
	assert.NotContains(t, payload.HTML, "data/P-1.jpg")
}

func TestAddySendRetriesServerErrors(t *testing.T) {
	reportPath := writeDigestFixture(t)
	poster := &fakePoster{respond: func(call int) (webclient.Response, error) {
		if call < 2 {
			return webclient.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return webclient.Response{StatusCode: http.StatusOK}, nil
	}}
	s := newTestAddySender(poster)

	require.NoError(t, s.Send(context.Background(), reportPath))
	assert.Equal(t, 3, poster.calls)
}

func TestAddySendRetriesTransportErrors(t *testing.T) {
	reportPath := writeDigestFixture(t)
	poster := &fakePoster{respond: func(call int) (webclient.Response, error) {
		if call == 0 {
			return webclient.Response{}, errors.New("connection reset")
		}
		return webclient.Response{StatusCode: http.StatusOK}, nil
	}}
	s := newTestAddySender(poster)

	require.NoError(t, s.Send(context.Background(), reportPath))
	assert.Equal(t, 2, poster.calls)
}

func TestAddySendExhaustsRetries(t *testing.T) {
	reportPath := writeDigestFixture(t)
	poster := &fakePoster{respond: func(int) (webclient.Response, error) {
		return webclient.Response{StatusCode: http.StatusInternalServerError}, nil
	}}
	s := newTestAddySender(poster)

	err := s.Send(context.Background(), reportPath)
	require.ErrorContains(t, err, "post digest to mail api")
	assert.Equal(t, 3, poster.calls)
}

func TestAddySendRejectionIsNotRetried(t *testing.T) {
	reportPath := writeDigestFixture(t)
	poster := &fakePoster{respond: func(int) (webclient.Response, error) {
		return webclient.Response{StatusCode: http.StatusUnauthorized}, nil
	}}
	s := newTestAddySender(poster)

	err := s.Send(context.Background(), reportPath)
	require.ErrorContains(t, err, "status 401")
	assert.Equal(t, 1, poster.calls)
}

func TestAddySendWithoutKey(t *testing.T) {
	poster := &fakePoster{}
	s := NewAddySender(config.AddyConfig{URL: "https://mail.test/v1/messages"},
		"permits@example.com", "ops@example.com", poster,
		retry.NewPolicy(), zap.NewNop())

	err := s.Send(context.Background(), writeDigestFixture(t))
	require.ErrorContains(t, err, "key not configured")
	assert.Zero(t, poster.calls)
}

func TestAddySendWithoutAssets(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report-2024-06-03.html")
	require.NoError(t, os.WriteFile(reportPath, []byte("<h1>Digest</h1>"), 0o644))
	poster := &fakePoster{}
	s := newTestAddySender(poster)

	require.NoError(t, s.Send(context.Background(), reportPath))

	var payload addyPayload
	require.NoError(t, json.Unmarshal(poster.bodies[0], &payload))
	assert.Equal(t, "<h1>Digest</h1>", payload.HTML)
}
