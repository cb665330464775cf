package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

// InboxStore persists in-app messages for a recipient.
type InboxStore interface {
	Push(ctx context.Context, recipient string, msg domain.InboxMessage) error
}

// InAppProvider writes directly to the recipient's inbox, so a successful
// write is already a delivery.
type InAppProvider struct {
	store InboxStore
	now   func() time.Time
}

var _ Provider = (*InAppProvider)(nil)

func NewInAppProvider(store InboxStore) (*InAppProvider, error) {
	if store == nil {
		return nil, fmt.Errorf("inbox store is required")
	}
	return &InAppProvider{store: store, now: time.Now}, nil
}

func (p *InAppProvider) Type() domain.NotificationType {
	return domain.NotificationTypeInApp
}

func (p *InAppProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	err := p.store.Push(ctx, recipient, domain.InboxMessage{
		Subject:     subject,
		Message:     message,
		Metadata:    metadata,
		DeliveredAt: p.now().UTC(),
	})
	if err != nil {
		return false, &ProviderError{Provider: "inapp", Message: "inbox write failed", Transient: true, Cause: err}
	}
	return true, nil
}
