package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"gorm.io/gorm"
)

type OTPRepository interface {
	Create(ctx context.Context, c *domain.OneTimeCode) error
	GetByID(ctx context.Context, id string) (*domain.OneTimeCode, error)
	FindLatestUnused(ctx context.Context, scope domain.CodeScope) (*domain.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, id string, now time.Time) error
	MarkUsed(ctx context.Context, id string, now time.Time) error
	DeleteUnused(ctx context.Context, scope domain.CodeScope) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (domain.OTPStats, error)
}

type GormOTPRepo struct {
	db *gorm.DB
}

func NewGormOTPRepo(db *gorm.DB) *GormOTPRepo {
	return &GormOTPRepo{db: db}
}

func (r *GormOTPRepo) Create(ctx context.Context, c *domain.OneTimeCode) error {
	model := codeModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *codeModelToDomain(model)
	}
	return nil
}

func (r *GormOTPRepo) GetByID(ctx context.Context, id string) (*domain.OneTimeCode, error) {
	var model OneTimeCodeModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return codeModelToDomain(&model), nil
}

func (r *GormOTPRepo) FindLatestUnused(ctx context.Context, scope domain.CodeScope) (*domain.OneTimeCode, error) {
	var model OneTimeCodeModel
	err := r.scoped(ctx, scope).
		Where("is_used = ?", false).
		Order("created_at DESC").
		Order("id DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return codeModelToDomain(&model), nil
}

// IncrementAttempts consumes one attempt only while the code is unused and
// below its limit. ErrConflict means the code was used or exhausted meanwhile.
func (r *GormOTPRepo) IncrementAttempts(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&OneTimeCodeModel{}).
		Where("id = ? AND is_used = ? AND attempts < max_attempts", id, false).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormOTPRepo) MarkUsed(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&OneTimeCodeModel{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{
			"is_used":    true,
			"used_at":    now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormOTPRepo) DeleteUnused(ctx context.Context, scope domain.CodeScope) (int64, error) {
	result := r.scoped(ctx, scope).
		Where("is_used = ?", false).
		Delete(&OneTimeCodeModel{})
	return result.RowsAffected, result.Error
}

func (r *GormOTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&OneTimeCodeModel{})
	return result.RowsAffected, result.Error
}

func (r *GormOTPRepo) Stats(ctx context.Context, now time.Time) (domain.OTPStats, error) {
	var row struct {
		Total   int64 `gorm:"column:total"`
		Used    int64 `gorm:"column:used"`
		Expired int64 `gorm:"column:expired"`
		Active  int64 `gorm:"column:active"`
	}
	err := r.db.WithContext(ctx).
		Model(&OneTimeCodeModel{}).
		Select(
			"COUNT(*) AS total, "+
				"COUNT(*) FILTER (WHERE is_used) AS used, "+
				"COUNT(*) FILTER (WHERE NOT is_used AND expires_at <= ?) AS expired, "+
				"COUNT(*) FILTER (WHERE NOT is_used AND expires_at > ?) AS active",
			now, now,
		).
		Scan(&row).Error
	if err != nil {
		return domain.OTPStats{}, err
	}
	return domain.OTPStats{Total: row.Total, Used: row.Used, Expired: row.Expired, Active: row.Active}, nil
}

func (r *GormOTPRepo) scoped(ctx context.Context, scope domain.CodeScope) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("identifier = ? AND channel = ? AND purpose = ?", scope.Identifier, scope.Channel, scope.Purpose)
}
