package bootstrap

import (
	"fmt"

	"github.com/kursadbilgin/otp-dispatch/internal/config"
	"github.com/kursadbilgin/otp-dispatch/internal/provider"
	"go.uber.org/zap"
)

// NewProviderRegistry builds one provider per notification type from the
// configured transports. PUSH falls back to the simulated transport when no
// webhook is set.
func NewProviderRegistry(cfg *config.Config, inbox provider.InboxStore, logger *zap.Logger) (*provider.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	email, err := newEmailProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("email provider: %w", err)
	}
	sms, err := newSMSProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sms provider: %w", err)
	}
	push, err := newPushProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("push provider: %w", err)
	}
	inApp, err := provider.NewInAppProvider(inbox)
	if err != nil {
		return nil, fmt.Errorf("in-app provider: %w", err)
	}

	return provider.NewRegistry(email, sms, push, inApp)
}

func newEmailProvider(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	switch cfg.EmailTransport {
	case config.EmailTransportSMTP:
		return provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			TLS:      cfg.SMTPTLS,
		})
	case config.EmailTransportSendGrid:
		return provider.NewSendGridProvider(provider.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFrom,
			FromName:  cfg.SMTPFromName,
			Sandbox:   cfg.SendGridSandbox,
		})
	default:
		return provider.NewSimulatedEmailProvider(cfg.SimulatedEmailFailureRate, logger)
	}
}

func newSMSProvider(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	if cfg.SMSTransport == config.SMSTransportTwilio {
		return provider.NewTwilioProvider(provider.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromPhone:  cfg.TwilioFromPhone,
		})
	}
	return provider.NewSimulatedSMSProvider(cfg.SimulatedSMSFailureRate, logger)
}

func newPushProvider(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	if cfg.PushWebhookURL != "" {
		return provider.NewPushWebhookProvider(cfg.PushWebhookURL)
	}
	return provider.NewSimulatedPushProvider(cfg.SimulatedPushFailureRate, logger)
}
