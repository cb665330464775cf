package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromPhone  string
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioProvider delivers SMS notifications through the Twilio Messages API.
type TwilioProvider struct {
	from     string
	messages messageCreator
}

var _ Provider = (*TwilioProvider)(nil)

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioProviderWithCreator(cfg.FromPhone, client.Api)
}

func newTwilioProviderWithCreator(from string, messages messageCreator) (*TwilioProvider, error) {
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("twilio from phone is required")
	}
	if messages == nil {
		return nil, fmt.Errorf("twilio client is required")
	}
	return &TwilioProvider{from: from, messages: messages}, nil
}

func (p *TwilioProvider) Type() domain.NotificationType {
	return domain.NotificationTypeSMS
}

// Send ignores the subject; SMS carries only the body.
func (p *TwilioProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(strings.TrimSpace(recipient))
	params.SetFrom(p.from)
	params.SetBody(message)

	resp, err := p.messages.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return false, &ProviderError{
				Provider:   "twilio",
				StatusCode: restErr.Status,
				Message:    restErr.Message,
				Transient:  isTransientHTTPStatus(restErr.Status),
				Cause:      err,
			}
		}
		return false, requestFailed("twilio", err)
	}

	if resp != nil && resp.Status != nil {
		switch *resp.Status {
		case "failed", "undelivered", "canceled":
			return false, nil
		}
	}
	return true, nil
}
