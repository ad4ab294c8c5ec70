package mailer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"permitwatch/internal/config"
	"permitwatch/internal/metrics"
)

// smtpTransport is the slice of the go-mail client the sender uses.
type smtpTransport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPSender mails the digest as a multipart message with the staged images
// embedded inline. Clients then render the report without fetching anything.
type SMTPSender struct {
	from      string
	to        []string
	transport smtpTransport
	logger    *zap.Logger
}

// NewSMTPSender builds an SMTPSender. Port 465 gets implicit TLS, anything
// else a mandatory STARTTLS upgrade. Credentials are optional; open relays
// on private networks are a supported setup.
func NewSMTPSender(cfg config.SMTPConfig, from, to string, logger *zap.Logger) (*SMTPSender, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.User != "" && cfg.Pass != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Pass),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("build smtp client: %w", err)
	}
	return &SMTPSender{
		from:      from,
		to:        recipients(to),
		transport: client,
		logger:    logger,
	}, nil
}

// Name implements Sender.
func (s *SMTPSender) Name() string { return "smtp" }

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, reportPath string) error {
	msg, err := s.buildMessage(reportPath)
	if err != nil {
		metrics.ObserveMailSend(s.Name(), false)
		return err
	}
	if err := s.transport.DialAndSendWithContext(ctx, msg); err != nil {
		metrics.ObserveMailSend(s.Name(), false)
		return fmt.Errorf("smtp send: %w", err)
	}
	metrics.ObserveMailSend(s.Name(), true)
	s.logger.Info("digest mailed",
		zap.String("provider", s.Name()),
		zap.String("report", filepath.Base(reportPath)),
	)
	return nil
}

// buildMessage assembles the multipart message. Every staged image is
// embedded and its "data/{name}" reference rewritten to the matching
// "cid:{name}" so the HTML stays self-contained.
func (s *SMTPSender) buildMessage(reportPath string) (*mail.Msg, error) {
	html, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	body := string(html)

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", s.from, err)
	}
	if err := msg.To(s.to...); err != nil {
		return nil, fmt.Errorf("set recipients %q: %w", strings.Join(s.to, ","), err)
	}
	msg.Subject("ePermits daily report " + filepath.Base(reportPath))

	assets, err := reportAssets(reportPath)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		body = strings.ReplaceAll(body, "data/"+a.Name, "cid:"+a.Name)
		msg.EmbedFile(a.Path)
	}

	msg.SetBodyString(mail.TypeTextPlain, plainFallback)
	msg.AddAlternativeString(mail.TypeTextHTML, body)
	return msg, nil
}
