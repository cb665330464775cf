package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

// RateLimiter caps provider calls per notification type.
type RateLimiter interface {
	Allow(ctx context.Context, notificationType domain.NotificationType) (bool, error)
	Wait(ctx context.Context, notificationType domain.NotificationType) error
}

// Limits holds calls-per-second budgets. Types missing from PerType use Default.
type Limits struct {
	Default int
	PerType map[domain.NotificationType]int
}

func (l Limits) For(notificationType domain.NotificationType) int {
	if limit, ok := l.PerType[notificationType]; ok && limit > 0 {
		return limit
	}
	return l.Default
}

// ParseLimits reads overrides of the form "SMS=10,EMAIL=50". Type names are
// case-insensitive.
func ParseLimits(defaultLimit int, overrides string) (Limits, error) {
	limits := Limits{Default: defaultLimit, PerType: map[domain.NotificationType]int{}}

	for _, pair := range strings.Split(overrides, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return Limits{}, fmt.Errorf("%w: rate limit %q must be TYPE=N", domain.ErrValidation, pair)
		}
		notificationType, err := domain.ParseNotificationTypeFromString(name)
		if err != nil {
			return Limits{}, err
		}
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit <= 0 {
			return Limits{}, fmt.Errorf("%w: rate limit for %s must be a positive integer", domain.ErrValidation, notificationType)
		}
		limits.PerType[notificationType] = limit
	}

	return limits, nil
}
