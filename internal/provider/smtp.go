package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/wneessen/go-mail"
)

const kindHeader mail.Header = "X-Notification-Kind"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPProvider delivers EMAIL notifications through an SMTP relay.
type SMTPProvider struct {
	cfg    SMTPConfig
	sender mailSender
}

var _ Provider = (*SMTPProvider)(nil)

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Port 465 is implicit TLS, everything else negotiates STARTTLS.
		if cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}

	return newSMTPProviderWithSender(cfg, client)
}

func newSMTPProviderWithSender(cfg SMTPConfig, sender mailSender) (*SMTPProvider, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	return &SMTPProvider{cfg: cfg, sender: sender}, nil
}

func (p *SMTPProvider) Type() domain.NotificationType {
	return domain.NotificationTypeEmail
}

func (p *SMTPProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	msg, err := p.buildMessage(recipient, subject, message, metadata)
	if err != nil {
		return false, rejected("smtp", "invalid email message", err)
	}

	if err := p.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return false, requestFailed("smtp", err)
	}
	return true, nil
}

func (p *SMTPProvider) buildMessage(recipient, subject, message string, metadata domain.Metadata) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if p.cfg.FromName != "" {
		if err := msg.FromFormat(p.cfg.FromName, p.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(p.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(strings.TrimSpace(recipient)); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, message)

	if kind, ok := metadata["kind"].(string); ok && kind != "" {
		msg.SetGenHeader(kindHeader, kind)
	}

	return msg, nil
}
