package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/provider"
	"github.com/kursadbilgin/otp-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	providerReturnedFalse = "Provider returned false"

	maxBatchSize            = 100
	defaultUserListLimit    = 50
	maxUserListLimit        = 100
	defaultRetryPageSize    = 100
	failureReasonNoProvider = "no_provider"
	failureReasonDeclined   = "provider_returned_false"
	failureReasonTransient  = "transient_error"
	failureReasonPermanent  = "permanent_error"
)

// InboxReader reads back in-app messages for a recipient.
type InboxReader interface {
	List(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error)
}

// Dispatcher persists a notification record per send, routes it to the
// provider registered for its type and records the outcome.
type Dispatcher struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	registry      *provider.Registry
	rateLimiter   ratelimit.RateLimiter
	inbox         InboxReader
	logger        *zap.Logger
	metrics       *observability.Metrics
	retryPageSize int
	now           func() time.Time
	newID         func() string
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	registry *provider.Registry,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		attempts:      attempts,
		registry:      registry,
		rateLimiter:   rateLimiter,
		logger:        logger,
		retryPageSize: defaultRetryPageSize,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) SetInbox(inbox InboxReader) {
	if d == nil {
		return
	}
	d.inbox = inbox
}

// AddProvider installs p for its notification type, replacing any existing one.
func (d *Dispatcher) AddProvider(p provider.Provider) error {
	if err := d.registry.Register(p); err != nil {
		return err
	}
	d.logger.Info("provider registered", zap.String("type", p.Type().String()))
	return nil
}

// Send persists a PENDING record, invokes the provider once and stores the
// terminal status. The returned record reflects the stored state even when
// err is non-nil.
func (d *Dispatcher) Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
	now := d.now().UTC()
	notification := &domain.Notification{
		ID:        d.newID(),
		Type:      req.Type,
		Status:    domain.StatusPending,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Message:   req.Message,
		Metadata:  req.Metadata,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	if err := d.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("notificationId", notification.ID),
		zap.String("type", notification.Type.String()),
		zap.String("recipient", observability.MaskIdentifier(notification.Recipient)),
	)

	// Terminal writes must land even if the caller goes away mid-send.
	storeCtx := context.WithoutCancel(ctx)

	p, ok := d.registry.Get(notification.Type)
	if !ok {
		reason := fmt.Sprintf("no provider registered for type %s", notification.Type)
		if err := d.complete(storeCtx, notification, domain.StatusFailed, &reason); err != nil {
			return notification, err
		}
		d.metrics.IncNotificationFailed(notification.Type.String(), failureReasonNoProvider)
		logger.Warn("notification failed: no provider")
		return notification, fmt.Errorf("%w: %s", domain.ErrNoProvider, notification.Type)
	}

	delivered, sendErr := d.deliver(ctx, p, notification, 1)
	switch {
	case sendErr != nil:
		reason := sendErr.Error()
		if err := d.complete(storeCtx, notification, domain.StatusFailed, &reason); err != nil {
			return notification, err
		}
		failureReason := failureReasonPermanent
		if provider.IsTransient(sendErr) {
			failureReason = failureReasonTransient
		}
		d.metrics.IncNotificationFailed(notification.Type.String(), failureReason)
		logger.Warn("notification failed", zap.String("reason", failureReason), zap.Error(sendErr))
		return notification, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, sendErr)

	case !delivered:
		reason := providerReturnedFalse
		if err := d.complete(storeCtx, notification, domain.StatusFailed, &reason); err != nil {
			return notification, err
		}
		d.metrics.IncNotificationFailed(notification.Type.String(), failureReasonDeclined)
		logger.Warn("notification failed: provider returned false")
		return notification, nil

	default:
		if err := d.complete(storeCtx, notification, domain.StatusSent, nil); err != nil {
			return notification, err
		}
		d.metrics.IncNotificationSent(notification.Type.String())
		logger.Info("notification sent")
		return notification, nil
	}
}

// SendBatch sends each request in order. Failed requests are logged and left
// out of the result; their records stay FAILED in the store.
func (d *Dispatcher) SendBatch(ctx context.Context, requests []domain.SendRequest) ([]domain.Notification, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one request", domain.ErrValidation)
	}
	if len(requests) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	created := make([]domain.Notification, 0, len(requests))
	for i, req := range requests {
		notification, err := d.Send(ctx, req)
		if err != nil {
			d.logger.Warn("batch: send failed, skipping",
				zap.Int("index", i),
				zap.String("type", req.Type.String()),
				zap.String("recipient", observability.MaskIdentifier(req.Recipient)),
				zap.Error(err),
			)
			continue
		}
		created = append(created, *notification)
	}

	if skipped := len(requests) - len(created); skipped > 0 {
		d.logger.Warn("batch completed with partial failure",
			zap.Int("total", len(requests)),
			zap.Int("skipped", skipped),
		)
	}
	return created, nil
}

// RetryFailed walks FAILED records oldest first and re-sends each through its
// provider. It returns how many records it flipped to SENT.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	retried := 0
	var cursor *repository.FailedCursor

	for {
		page, err := d.notifications.ListFailed(ctx, cursor, d.retryPageSize)
		if err != nil {
			return retried, fmt.Errorf("failed to list failed notifications: %w", err)
		}

		for i := range page {
			if ctx.Err() != nil {
				return retried, ctx.Err()
			}
			if d.retryOne(ctx, &page[i]) {
				retried++
			}
		}

		if len(page) < d.retryPageSize {
			break
		}
		last := page[len(page)-1]
		cursor = &repository.FailedCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	if retried > 0 {
		d.logger.Info("retry sweep completed", zap.Int("retried", retried))
	}
	return retried, nil
}

func (d *Dispatcher) retryOne(ctx context.Context, notification *domain.Notification) bool {
	logger := d.logger.With(
		zap.String("notificationId", notification.ID),
		zap.String("type", notification.Type.String()),
	)

	p, ok := d.registry.Get(notification.Type)
	if !ok {
		logger.Debug("retry skipped: no provider")
		return false
	}

	attemptNumber := 2
	if d.attempts != nil {
		next, err := d.attempts.NextAttemptNumber(ctx, notification.ID)
		if err != nil {
			logger.Warn("attempt sequence unavailable", zap.Error(err))
		} else {
			attemptNumber = next
		}
	}

	delivered, err := d.deliver(ctx, p, notification, attemptNumber)
	if err != nil {
		logger.Warn("retry failed", zap.Error(err))
		return false
	}
	if !delivered {
		logger.Warn("retry failed: provider returned false")
		return false
	}

	if err := d.notifications.MarkRetried(context.WithoutCancel(ctx), notification.ID, d.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("retry raced with another sweep")
			return false
		}
		logger.Error("failed to mark retried notification as sent", zap.Error(err))
		return false
	}

	d.metrics.IncNotificationRetried(notification.Type.String())
	logger.Info("notification retried successfully")
	return true
}

// GetStats counts records per status, optionally scoped to one user.
func (d *Dispatcher) GetStats(ctx context.Context, userID *string) (domain.NotificationStats, error) {
	counts, err := d.notifications.CountByStatus(ctx, userID)
	if err != nil {
		return domain.NotificationStats{}, fmt.Errorf("failed to count notifications: %w", err)
	}

	var stats domain.NotificationStats
	for _, c := range counts {
		switch c.Status {
		case domain.StatusSent:
			stats.Sent = c.Count
		case domain.StatusFailed:
			stats.Failed = c.Count
		case domain.StatusPending:
			stats.Pending = c.Count
		}
		stats.Total += c.Count
	}
	return stats, nil
}

// GetNotification loads one record with its delivery attempts, oldest first.
func (d *Dispatcher) GetNotification(ctx context.Context, id string) (*domain.Notification, []domain.NotificationAttempt, error) {
	notification, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d.attempts == nil {
		return notification, nil, nil
	}

	history, err := d.attempts.ListByNotification(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return notification, history, nil
}

// GetUserNotifications lists a user's records newest first.
func (d *Dispatcher) GetUserNotifications(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultUserListLimit
	}
	limit = min(limit, maxUserListLimit)
	offset = max(offset, 0)

	return d.notifications.ListByUser(ctx, userID, limit, offset)
}

func (d *Dispatcher) Inbox(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error) {
	if d.inbox == nil {
		return nil, fmt.Errorf("%w: in-app inbox is not configured", domain.ErrNoProvider)
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	return d.inbox.List(ctx, recipient, limit)
}

func (d *Dispatcher) deliver(ctx context.Context, p provider.Provider, notification *domain.Notification, attemptNumber int) (bool, error) {
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, notification.Type); err != nil {
			return false, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := d.now()
	delivered, err := p.Send(ctx, notification.Recipient, notification.Subject, notification.Message, notification.Metadata)
	d.metrics.ObserveNotificationSendDuration(notification.Type.String(), d.now().Sub(start))

	d.recordAttempt(ctx, notification.ID, attemptNumber, delivered && err == nil, err)
	return delivered, err
}

func (d *Dispatcher) recordAttempt(ctx context.Context, notificationID string, attemptNumber int, succeeded bool, sendErr error) {
	if d.attempts == nil {
		return
	}

	var attemptErr *string
	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value
	} else if !succeeded {
		value := providerReturnedFalse
		attemptErr = &value
	}

	attempt := &domain.NotificationAttempt{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptNumber:  attemptNumber,
		Succeeded:      succeeded,
		Error:          attemptErr,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.attempts.Create(context.WithoutCancel(ctx), attempt); err != nil {
		d.logger.Error("failed to record delivery attempt",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) complete(ctx context.Context, notification *domain.Notification, status domain.Status, errorMessage *string) error {
	var sentAt *time.Time
	if status == domain.StatusSent {
		value := d.now().UTC()
		sentAt = &value
	}

	if err := d.notifications.Complete(ctx, notification.ID, status, errorMessage, sentAt); err != nil {
		d.logger.Error("failed to store notification outcome",
			zap.String("notificationId", notification.ID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to store notification outcome: %w", err)
	}

	notification.Status = status
	notification.ErrorMessage = errorMessage
	notification.SentAt = sentAt
	return nil
}
