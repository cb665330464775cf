package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRetryScanInterval = time.Minute

type failedRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// RetryScanner periodically re-sends FAILED notifications.
type RetryScanner struct {
	retrier  failedRetrier
	logger   *zap.Logger
	interval time.Duration
}

func NewRetryScanner(retrier failedRetrier, interval time.Duration, logger *zap.Logger) (*RetryScanner, error) {
	if retrier == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		retrier:  retrier,
		logger:   logger,
		interval: interval,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so failures left by a previous process are not held until the first tick.
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) sweep(ctx context.Context) error {
	retried, err := s.retrier.RetryFailed(ctx)
	if err != nil {
		return fmt.Errorf("failed to retry failed notifications: %w", err)
	}
	if retried > 0 {
		s.logger.Info("retry scanner resent notifications", zap.Int("retried", retried))
	}
	return nil
}
