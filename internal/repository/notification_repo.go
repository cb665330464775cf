package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"gorm.io/gorm"
)

// FailedCursor is the keyset position of the last record returned by ListFailed.
type FailedCursor struct {
	CreatedAt time.Time
	ID        string
}

type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	Complete(ctx context.Context, id string, status domain.Status, errorMessage *string, sentAt *time.Time) error
	MarkRetried(ctx context.Context, id string, now time.Time) error
	ListFailed(ctx context.Context, after *FailedCursor, limit int) ([]domain.Notification, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error)
	CountByStatus(ctx context.Context, userID *string) ([]StatusCount, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load notification %s: %w", id, err)
	}
	return notificationModelToDomain(&model), nil
}

// Complete moves a PENDING record to its terminal status.
func (r *GormNotificationRepo) Complete(ctx context.Context, id string, status domain.Status, errorMessage *string, sentAt *time.Time) error {
	return r.transition(ctx, id, domain.StatusPending, map[string]any{
		"status":        status,
		"error_message": errorMessage,
		"sent_at":       sentAt,
	})
}

// MarkRetried flips a FAILED record to SENT. ErrConflict means another sweep got there first.
func (r *GormNotificationRepo) MarkRetried(ctx context.Context, id string, now time.Time) error {
	return r.transition(ctx, id, domain.StatusFailed, map[string]any{
		"status":        domain.StatusSent,
		"sent_at":       now,
		"error_message": nil,
	})
}

// transition applies updates only while the row is still in status from.
func (r *GormNotificationRepo) transition(ctx context.Context, id string, from domain.Status, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	switch {
	case res.Error != nil:
		return fmt.Errorf("update notification %s: %w", id, res.Error)
	case res.RowsAffected == 0:
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) ListFailed(ctx context.Context, after *FailedCursor, limit int) ([]domain.Notification, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusFailed)
	if after != nil {
		query = query.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}

	var models []NotificationModel
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return toNotifications(models), nil
}

func (r *GormNotificationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return toNotifications(models), nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context, userID *string) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}

	var counts []StatusCount
	if err := query.Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func toNotifications(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
