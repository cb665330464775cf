package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/lock"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultExpiration = 15 * time.Minute
	defaultLockTTL    = 30 * time.Second

	verifyResultSuccess          = "success"
	verifyResultNotFound         = "not_found"
	verifyResultExpired          = "expired"
	verifyResultAttemptsExceeded = "attempts_exceeded"
	verifyResultInvalid          = "invalid_code"
)

// Sender delivers a single notification and reports the stored outcome.
type Sender interface {
	Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error)
}

type OTPOptions struct {
	CodeLength        int
	MaxAttempts       int
	DefaultExpiration time.Duration
	LockTTL           time.Duration
}

func (o OTPOptions) withDefaults() OTPOptions {
	if o.CodeLength <= 0 {
		o.CodeLength = defaultCodeLength
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = domain.DefaultMaxAttempts
	}
	if o.DefaultExpiration <= 0 {
		o.DefaultExpiration = defaultExpiration
	}
	if o.LockTTL <= 0 {
		o.LockTTL = defaultLockTTL
	}
	return o
}

// IssueReceipt acknowledges an issued code. It never carries the code itself.
type IssueReceipt struct {
	Identifier string
	Channel    domain.OTPChannel
	Purpose    domain.Purpose
	ExpiresAt  time.Time
}

// OTPManager issues and verifies one-time codes. All state lives in the code
// store; the manager itself is safe for concurrent use.
type OTPManager struct {
	codes        repository.OTPRepository
	sender       Sender
	locker       lock.Locker
	opts         OTPOptions
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	newID        func() string
	generateCode func(length int) (string, error)
}

func NewOTPManager(
	codes repository.OTPRepository,
	sender Sender,
	locker lock.Locker,
	opts OTPOptions,
	logger *zap.Logger,
) (*OTPManager, error) {
	if codes == nil {
		return nil, fmt.Errorf("otp repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	opts = opts.withDefaults()
	if opts.CodeLength > maxCodeLength {
		return nil, fmt.Errorf("code length must be <= %d", maxCodeLength)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OTPManager{
		codes:        codes,
		sender:       sender,
		locker:       locker,
		opts:         opts,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
		generateCode: GenerateNumericCode,
	}, nil
}

func (m *OTPManager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

func (m *OTPManager) DefaultExpiration() time.Duration {
	return m.opts.DefaultExpiration
}

// Issue creates and delivers a code for the scope. It fails with a
// *domain.RateLimitError while an earlier code for the scope is still active.
// A zero expiration uses the configured default.
func (m *OTPManager) Issue(ctx context.Context, scope domain.CodeScope, expiration time.Duration) (*IssueReceipt, error) {
	scope = scope.Normalized()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if expiration < 0 {
		return nil, fmt.Errorf("%w: expiration must be positive", domain.ErrValidation)
	}
	if expiration == 0 {
		expiration = m.opts.DefaultExpiration
	}

	var receipt *IssueReceipt
	err := m.withScopeLock(ctx, scope, func(ctx context.Context) error {
		var err error
		receipt, err = m.issueLocked(ctx, scope, expiration)
		return err
	})
	return receipt, err
}

// Resend drops every unused code for the scope and issues a fresh one with
// the default expiration.
func (m *OTPManager) Resend(ctx context.Context, scope domain.CodeScope) (*IssueReceipt, error) {
	scope = scope.Normalized()
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var receipt *IssueReceipt
	err := m.withScopeLock(ctx, scope, func(ctx context.Context) error {
		deleted, err := m.codes.DeleteUnused(ctx, scope)
		if err != nil {
			return fmt.Errorf("failed to delete unused codes: %w", err)
		}
		m.logger.Debug("resend: cleared unused codes",
			zap.String("identifier", observability.MaskIdentifier(scope.Identifier)),
			zap.String("purpose", scope.Purpose.String()),
			zap.Int64("deleted", deleted),
		)

		receipt, err = m.issueLocked(ctx, scope, m.opts.DefaultExpiration)
		return err
	})
	return receipt, err
}

func (m *OTPManager) issueLocked(ctx context.Context, scope domain.CodeScope, expiration time.Duration) (*IssueReceipt, error) {
	logger := observability.WithContextLogger(m.logger, ctx).With(
		zap.String("identifier", observability.MaskIdentifier(scope.Identifier)),
		zap.String("channel", scope.Channel.String()),
		zap.String("purpose", scope.Purpose.String()),
	)

	if _, err := m.Cleanup(ctx); err != nil {
		logger.Warn("cleanup before issue failed", zap.Error(err))
	}

	now := m.now().UTC()
	latest, err := m.codes.FindLatestUnused(ctx, scope)
	switch {
	case err == nil:
		if latest.IsActiveAt(now) {
			wait := waitMinutes(latest.ExpiresAt.Sub(now))
			logger.Info("issue rejected: active code exists", zap.Int("waitMinutes", wait))
			return nil, &domain.RateLimitError{WaitMinutes: wait}
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up active code: %w", err)
	}

	code, err := m.generateCode(m.opts.CodeLength)
	if err != nil {
		return nil, err
	}

	record := &domain.OneTimeCode{
		ID:          m.newID(),
		Identifier:  scope.Identifier,
		Channel:     scope.Channel,
		Purpose:     scope.Purpose,
		Code:        code,
		ExpiresAt:   now.Add(expiration),
		MaxAttempts: m.opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.codes.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist code: %w", err)
	}

	subject, body := renderOTPMessage(scope.Purpose, code, expiration)
	notification, sendErr := m.sender.Send(ctx, domain.SendRequest{
		Type:      scope.Channel.NotificationType(),
		Recipient: scope.Identifier,
		Subject:   subject,
		Message:   body,
		Metadata: domain.Metadata{
			"kind":    "OTP",
			"purpose": scope.Purpose.String(),
			"channel": scope.Channel.String(),
		},
	})
	if sendErr != nil {
		logger.Warn("otp delivery failed", zap.String("otpId", record.ID), zap.Error(sendErr))
		if errors.Is(sendErr, domain.ErrDeliveryFailed) {
			return nil, sendErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, sendErr)
	}
	if notification == nil || notification.Status != domain.StatusSent {
		logger.Warn("otp delivery failed: provider declined", zap.String("otpId", record.ID))
		return nil, fmt.Errorf("%w: failed to send OTP", domain.ErrDeliveryFailed)
	}

	m.metrics.IncOTPIssued(scope.Purpose.String())
	logger.Info("otp issued", zap.String("otpId", record.ID), zap.Time("expiresAt", record.ExpiresAt))

	return &IssueReceipt{
		Identifier: scope.Identifier,
		Channel:    scope.Channel,
		Purpose:    scope.Purpose,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}

// Verify checks supplied against the latest unused code for the scope and
// returns the code's id on success. Every check that reaches the comparison
// consumes an attempt first.
func (m *OTPManager) Verify(ctx context.Context, scope domain.CodeScope, supplied string) (string, error) {
	scope = scope.Normalized()
	if err := scope.Validate(); err != nil {
		return "", err
	}

	id, result, err := m.verify(ctx, scope, supplied)
	m.metrics.IncOTPVerification(scope.Purpose.String(), result)

	logger := observability.WithContextLogger(m.logger, ctx).With(
		zap.String("identifier", observability.MaskIdentifier(scope.Identifier)),
		zap.String("purpose", scope.Purpose.String()),
		zap.String("result", result),
	)
	if err != nil {
		logger.Info("otp verification failed", zap.Error(err))
		return "", err
	}
	logger.Info("otp verified", zap.String("otpId", id))
	return id, nil
}

func (m *OTPManager) verify(ctx context.Context, scope domain.CodeScope, supplied string) (string, string, error) {
	record, err := m.codes.FindLatestUnused(ctx, scope)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", verifyResultNotFound, fmt.Errorf("%w: OTP not found or already used", domain.ErrNotFound)
		}
		return "", "error", fmt.Errorf("failed to look up code: %w", err)
	}

	now := m.now().UTC()
	if record.IsExpiredAt(now) {
		return "", verifyResultExpired, fmt.Errorf("%w: OTP has expired", domain.ErrExpired)
	}
	if record.AttemptsExhausted() {
		return "", verifyResultAttemptsExceeded, fmt.Errorf("%w: maximum verification attempts exceeded", domain.ErrAttemptsExceeded)
	}

	if err := m.codes.IncrementAttempts(ctx, record.ID, now); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return "", "error", fmt.Errorf("failed to record attempt: %w", err)
		}
		result, err := m.classifyLostAttempt(ctx, record.ID)
		return "", result, err
	}

	if subtle.ConstantTimeCompare([]byte(supplied), []byte(record.Code)) != 1 {
		return "", verifyResultInvalid, fmt.Errorf("%w: invalid OTP code", domain.ErrInvalidCode)
	}

	if err := m.codes.MarkUsed(ctx, record.ID, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return "", verifyResultNotFound, fmt.Errorf("%w: OTP not found or already used", domain.ErrNotFound)
		}
		return "", "error", fmt.Errorf("failed to mark code used: %w", err)
	}

	return record.ID, verifyResultSuccess, nil
}

// classifyLostAttempt explains why the conditional attempt increment matched
// no row: a concurrent verifier either consumed the code or used up the
// remaining attempts.
func (m *OTPManager) classifyLostAttempt(ctx context.Context, id string) (string, error) {
	current, err := m.codes.GetByID(ctx, id)
	if err != nil || current.IsUsed {
		return verifyResultNotFound, fmt.Errorf("%w: OTP not found or already used", domain.ErrNotFound)
	}
	return verifyResultAttemptsExceeded, fmt.Errorf("%w: maximum verification attempts exceeded", domain.ErrAttemptsExceeded)
}

// Cleanup deletes every code whose expiry has passed, used or not.
func (m *OTPManager) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := m.codes.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	if deleted > 0 {
		m.metrics.AddOTPCleaned(deleted)
		m.logger.Debug("expired codes removed", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (m *OTPManager) GetStats(ctx context.Context) (domain.OTPStats, error) {
	stats, err := m.codes.Stats(ctx, m.now().UTC())
	if err != nil {
		return domain.OTPStats{}, fmt.Errorf("failed to compute otp stats: %w", err)
	}
	return stats, nil
}

func (m *OTPManager) withScopeLock(ctx context.Context, scope domain.CodeScope, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}

	release, err := m.locker.Acquire(ctx, scope.Key(), m.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: another request for this code is in progress", domain.ErrConflict)
		}
		return fmt.Errorf("failed to acquire scope lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release scope lock", zap.String("key", scope.Key()), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// waitMinutes rounds the remaining lifetime of a code up to whole minutes.
func waitMinutes(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}
