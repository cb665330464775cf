package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

// OneTimeCodeModel is the persistence model for the one_time_codes table.
type OneTimeCodeModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	Identifier  string            `gorm:"type:varchar(255);not null"`
	Channel     domain.OTPChannel `gorm:"type:varchar(10);not null"`
	Purpose     domain.Purpose    `gorm:"type:varchar(32);not null"`
	Code        string            `gorm:"type:varchar(16);not null"`
	ExpiresAt   time.Time         `gorm:"not null"`
	IsUsed      bool              `gorm:"not null;default:false"`
	UsedAt      *time.Time
	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:3"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (OneTimeCodeModel) TableName() string {
	return "one_time_codes"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string                  `gorm:"type:uuid;primaryKey"`
	Type         domain.NotificationType `gorm:"type:varchar(10);not null"`
	Status       domain.Status           `gorm:"type:varchar(20);not null"`
	Recipient    string                  `gorm:"type:varchar(255);not null"`
	Subject      string                  `gorm:"type:varchar(255);not null"`
	Message      string                  `gorm:"type:text;not null"`
	Metadata     MetadataJSON            `gorm:"type:jsonb"`
	ErrorMessage *string                 `gorm:"type:text"`
	SentAt       *time.Time
	UserID       *string `gorm:"type:varchar(64)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	AttemptNumber  int     `gorm:"not null"`
	Succeeded      bool    `gorm:"not null"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

// MetadataJSON stores domain.Metadata in a jsonb column.
type MetadataJSON map[string]any

func (m MetadataJSON) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MetadataJSON) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	out := MetadataJSON{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

func codeModelFromDomain(c *domain.OneTimeCode) *OneTimeCodeModel {
	if c == nil {
		return nil
	}

	return &OneTimeCodeModel{
		ID:          c.ID,
		Identifier:  c.Identifier,
		Channel:     c.Channel,
		Purpose:     c.Purpose,
		Code:        c.Code,
		ExpiresAt:   c.ExpiresAt,
		IsUsed:      c.IsUsed,
		UsedAt:      c.UsedAt,
		Attempts:    c.Attempts,
		MaxAttempts: c.MaxAttempts,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func codeModelToDomain(m *OneTimeCodeModel) *domain.OneTimeCode {
	if m == nil {
		return nil
	}

	return &domain.OneTimeCode{
		ID:          m.ID,
		Identifier:  m.Identifier,
		Channel:     m.Channel,
		Purpose:     m.Purpose,
		Code:        m.Code,
		ExpiresAt:   m.ExpiresAt,
		IsUsed:      m.IsUsed,
		UsedAt:      m.UsedAt,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		Type:         n.Type,
		Status:       n.Status,
		Recipient:    n.Recipient,
		Subject:      n.Subject,
		Message:      n.Message,
		Metadata:     MetadataJSON(n.Metadata),
		ErrorMessage: n.ErrorMessage,
		SentAt:       n.SentAt,
		UserID:       n.UserID,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		Type:         m.Type,
		Status:       m.Status,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		Message:      m.Message,
		Metadata:     domain.Metadata(m.Metadata),
		ErrorMessage: m.ErrorMessage,
		SentAt:       m.SentAt,
		UserID:       m.UserID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Succeeded:      a.Succeeded,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Succeeded:      m.Succeeded,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}
