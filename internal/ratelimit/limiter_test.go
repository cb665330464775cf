package ratelimit

import (
	"errors"
	"testing"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

func TestParseLimits(t *testing.T) {
	t.Parallel()

	limits, err := ParseLimits(100, " sms=10, EMAIL=50 ,")
	if err != nil {
		t.Fatalf("ParseLimits() error = %v", err)
	}

	tests := []struct {
		notificationType domain.NotificationType
		want             int
	}{
		{domain.NotificationTypeSMS, 10},
		{domain.NotificationTypeEmail, 50},
		{domain.NotificationTypePush, 100},
		{domain.NotificationTypeInApp, 100},
	}
	for _, tc := range tests {
		if got := limits.For(tc.notificationType); got != tc.want {
			t.Fatalf("For(%s) = %d, want %d", tc.notificationType, got, tc.want)
		}
	}
}

func TestParseLimitsRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"SMS", "FAX=3", "SMS=0", "SMS=ten"} {
		if _, err := ParseLimits(100, raw); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ParseLimits(%q) error = %v, want ErrValidation", raw, err)
		}
	}
}
