package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	requestIDHeader       = "X-Request-ID"
)

type pushRequest struct {
	To    string          `json:"to"`
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  domain.Metadata `json:"data,omitempty"`
}

// PushWebhookProvider forwards push notifications to an HTTP push gateway.
type PushWebhookProvider struct {
	client   *resty.Client
	endpoint string
}

var _ Provider = (*PushWebhookProvider)(nil)

func NewPushWebhookProvider(endpoint string) (*PushWebhookProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewPushWebhookProviderWithClient(endpoint, client)
}

func NewPushWebhookProviderWithClient(endpoint string, client *resty.Client) (*PushWebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &PushWebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *PushWebhookProvider) Type() domain.NotificationType {
	return domain.NotificationTypePush
}

func (p *PushWebhookProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	if p == nil || p.client == nil {
		return false, fmt.Errorf("provider is not initialized")
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if id, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader(requestIDHeader, id)
	}

	response, err := req.
		SetBody(pushRequest{
			To:    recipient,
			Title: subject,
			Body:  message,
			Data:  metadata,
		}).
		Post(p.endpoint)
	if err != nil {
		return false, requestFailed("push", err)
	}
	if response == nil {
		return false, &ProviderError{
			Provider:  "push",
			Message:   "empty response",
			Transient: true,
		}
	}

	if isSuccessStatus(response.StatusCode()) {
		return true, nil
	}
	return false, statusError("push", response.StatusCode(), response.String())
}
