package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

// Provider delivers a message over one notification type. A false result
// with a nil error means the transport declined the message.
type Provider interface {
	Type() domain.NotificationType
	Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error)
}

// Registry maps each notification type to at most one provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.NotificationType]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[domain.NotificationType]Provider, len(providers))}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register installs p for its type, replacing any previous provider.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("%w: provider is required", domain.ErrValidation)
	}
	notificationType := p.Type()
	if !notificationType.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, notificationType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[notificationType] = p
	return nil
}

func (r *Registry) Get(notificationType domain.NotificationType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[notificationType]
	return p, ok
}

func (r *Registry) Types() []domain.NotificationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.NotificationType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
