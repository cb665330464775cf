package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository stores the delivery history of notifications. Rows are
// append-only.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.NotificationAttempt) error
	NextAttemptNumber(ctx context.Context, notificationID string) (int, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(attemptModelFromDomain(a)).Error; err != nil {
		return fmt.Errorf("insert attempt %d for %s: %w", a.AttemptNumber, a.NotificationID, err)
	}
	return nil
}

// NextAttemptNumber is one past the highest recorded attempt, so the first
// delivery is 1 and every retry continues the sequence.
func (r *GormAttemptRepo) NextAttemptNumber(ctx context.Context, notificationID string) (int, error) {
	var highest int
	err := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("notification_id = ?", notificationID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&highest).Error
	if err != nil {
		return 0, fmt.Errorf("read attempt sequence for %s: %w", notificationID, err)
	}
	return highest + 1, nil
}

func (r *GormAttemptRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list attempts for %s: %w", notificationID, err)
	}

	history := make([]domain.NotificationAttempt, len(models))
	for i := range models {
		history[i] = *attemptModelToDomain(&models[i])
	}
	return history, nil
}
