package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"permitwatch/internal/config"
	"permitwatch/internal/metrics"
	"permitwatch/internal/retry"
	"permitwatch/internal/webclient"
)

type httpPoster interface {
	PostJSON(ctx context.Context, rawURL string, body []byte, headers http.Header) (webclient.Response, error)
}

// addyPayload is the mail API request body.
type addyPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// AddySender posts the digest to the Addy mail API. The API takes a single
// HTML string, so staged images are inlined as base64 data URIs instead of
// MIME parts.
type AddySender struct {
	cfg    config.AddyConfig
	from   string
	to     string
	client httpPoster
	policy retry.Policy
	logger *zap.Logger
}

// NewAddySender builds an AddySender.
func NewAddySender(cfg config.AddyConfig, from, to string, client httpPoster, policy retry.Policy, logger *zap.Logger) *AddySender {
	return &AddySender{
		cfg:    cfg,
		from:   from,
		to:     to,
		client: client,
		policy: policy,
		logger: logger,
	}
}

// Name implements Sender.
func (a *AddySender) Name() string { return "addy" }

// Send implements Sender. Transport failures and 5xx statuses are retried;
// any other non-2xx status is a definitive rejection.
func (a *AddySender) Send(ctx context.Context, reportPath string) error {
	if a.cfg.Key == "" {
		metrics.ObserveMailSend(a.Name(), false)
		return errors.New("mail api key not configured")
	}

	payload, err := a.buildPayload(reportPath)
	if err != nil {
		metrics.ObserveMailSend(a.Name(), false)
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.Key)

	var resp webclient.Response
	err = a.policy.Do(ctx, func() error {
		postCtx := ctx
		if a.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			postCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
			defer cancel()
		}
		var postErr error
		resp, postErr = a.client.PostJSON(postCtx, a.cfg.URL, payload, headers)
		if postErr != nil {
			return postErr
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("mail api returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		metrics.ObserveMailSend(a.Name(), false)
		return fmt.Errorf("post digest to mail api: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveMailSend(a.Name(), false)
		return fmt.Errorf("mail api rejected digest: status %d", resp.StatusCode)
	}

	metrics.ObserveMailSend(a.Name(), true)
	a.logger.Info("digest mailed",
		zap.String("provider", a.Name()),
		zap.String("report", filepath.Base(reportPath)),
	)
	return nil
}

// buildPayload reads the digest and inlines its staged images. An asset that
// cannot be read keeps its original reference rather than sinking the send.
func (a *AddySender) buildPayload(reportPath string) ([]byte, error) {
	html, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	body := string(html)

	assets, err := reportAssets(reportPath)
	if err != nil {
		return nil, err
	}
	for _, asset := range assets {
		data, err := os.ReadFile(asset.Path)
		if err != nil {
			a.logger.Warn("report asset unreadable, left as a relative link",
				zap.String("asset", asset.Name),
				zap.Error(err),
			)
			continue
		}
		uri := "data:" + mimeForAsset(asset.Name) + ";base64," + base64.StdEncoding.EncodeToString(data)
		body = strings.ReplaceAll(body, "data/"+asset.Name, uri)
	}

	payload, err := json.Marshal(addyPayload{
		From:    a.from,
		To:      a.to,
		Subject: "ePermits report " + filepath.Base(reportPath),
		HTML:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mail api payload: %w", err)
	}
	return payload, nil
}
