package provider

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Sandbox   bool
}

// SendGridProvider delivers EMAIL notifications through the SendGrid v3 API.
type SendGridProvider struct {
	cfg       SendGridConfig
	newClient func() *sendgrid.Client
}

var _ Provider = (*SendGridProvider)(nil)

func NewSendGridProvider(cfg SendGridConfig) (*SendGridProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("sendgrid from address is required")
	}

	// sendgrid.Client carries the request body, so each send gets its own.
	return &SendGridProvider{
		cfg: cfg,
		newClient: func() *sendgrid.Client {
			return sendgrid.NewSendClient(cfg.APIKey)
		},
	}, nil
}

func (p *SendGridProvider) Type() domain.NotificationType {
	return domain.NotificationTypeEmail
}

func (p *SendGridProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	from := mail.NewEmail(p.cfg.FromName, p.cfg.FromEmail)
	to := mail.NewEmail("", strings.TrimSpace(recipient))
	htmlContent := "<p>" + strings.ReplaceAll(html.EscapeString(message), "\n", "<br>") + "</p>"

	email := mail.NewSingleEmail(from, subject, to, message, htmlContent)
	if kind, ok := metadata["kind"].(string); ok && kind != "" {
		email.AddCategories(strings.ToLower(kind))
	}
	if p.cfg.Sandbox {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		email.MailSettings = ms
	}

	response, err := p.newClient().SendWithContext(ctx, email)
	if err != nil {
		return false, requestFailed("sendgrid", err)
	}
	if !isSuccessStatus(response.StatusCode) {
		return false, statusError("sendgrid", response.StatusCode, response.Body)
	}
	return true, nil
}
