package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"go.uber.org/zap"
)

// SimulatedProvider logs the send and fails at a configured rate. It stands in
// for a real transport in development.
type SimulatedProvider struct {
	notificationType domain.NotificationType
	delay            time.Duration
	failureRate      float64
	logger           *zap.Logger

	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ Provider = (*SimulatedProvider)(nil)

func NewSimulatedProvider(
	notificationType domain.NotificationType,
	delay time.Duration,
	failureRate float64,
	logger *zap.Logger,
) (*SimulatedProvider, error) {
	if !notificationType.IsValid() {
		return nil, fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, notificationType)
	}
	if failureRate < 0 || failureRate > 1 {
		return nil, fmt.Errorf("%w: failure rate must be within [0,1], got %v", domain.ErrValidation, failureRate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SimulatedProvider{
		notificationType: notificationType,
		delay:            delay,
		failureRate:      failureRate,
		logger:           logger,
		randFloat:        rand.Float64,
		sleep:            sleepContext,
	}, nil
}

// Simulated transports with the reference delays and failure rates.
func NewSimulatedEmailProvider(failureRate float64, logger *zap.Logger) (*SimulatedProvider, error) {
	return NewSimulatedProvider(domain.NotificationTypeEmail, 100*time.Millisecond, failureRate, logger)
}

func NewSimulatedPushProvider(failureRate float64, logger *zap.Logger) (*SimulatedProvider, error) {
	return NewSimulatedProvider(domain.NotificationTypePush, 200*time.Millisecond, failureRate, logger)
}

func NewSimulatedSMSProvider(failureRate float64, logger *zap.Logger) (*SimulatedProvider, error) {
	return NewSimulatedProvider(domain.NotificationTypeSMS, 150*time.Millisecond, failureRate, logger)
}

func (p *SimulatedProvider) Type() domain.NotificationType {
	return p.notificationType
}

func (p *SimulatedProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	if p.delay > 0 {
		if err := p.sleep(ctx, p.delay); err != nil {
			return false, err
		}
	}

	logger := p.logger.With(
		zap.String("type", p.notificationType.String()),
		zap.String("recipient", observability.MaskIdentifier(recipient)),
		zap.String("subject", subject),
	)

	if p.randFloat() < p.failureRate {
		logger.Warn("simulated delivery failed")
		return false, nil
	}

	logger.Info("simulated delivery succeeded", zap.Int("messageLength", len(message)))
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
