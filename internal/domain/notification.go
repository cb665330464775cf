package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransitionTo enforces PENDING -> SENT|FAILED and FAILED -> SENT.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusSent
	}
	return false
}

// NotificationType represents the delivery medium.
type NotificationType string

const (
	NotificationTypeEmail NotificationType = "EMAIL"
	NotificationTypeInApp NotificationType = "IN_APP"
	NotificationTypePush  NotificationType = "PUSH"
	NotificationTypeSMS   NotificationType = "SMS"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeEmail, NotificationTypeInApp, NotificationTypePush, NotificationTypeSMS:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// NotificationTypes lists every known type in a stable order.
func NotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationTypeEmail,
		NotificationTypeInApp,
		NotificationTypePush,
		NotificationTypeSMS,
	}
}

// Metadata is an opaque key/value map carried with a notification.
type Metadata map[string]any

const (
	MaxSubjectLength = 255
	MaxMessageLength = 10000
)

// Notification is the persisted log entry for a single dispatch request.
type Notification struct {
	ID           string
	Type         NotificationType
	Status       Status
	Recipient    string
	Subject      string
	Message      string
	Metadata     Metadata
	ErrorMessage *string
	SentAt       *time.Time
	UserID       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(n.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if l := len([]rune(n.Subject)); l > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (got %d)", ErrValidation, MaxSubjectLength, l)
	}
	if l := len([]rune(n.Message)); l > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxMessageLength, l)
	}
	return nil
}

// SendRequest is the input to a single dispatch.
type SendRequest struct {
	Type      NotificationType
	Recipient string
	Subject   string
	Message   string
	Metadata  Metadata
	UserID    *string
}

// NotificationStats holds per-status counts.
type NotificationStats struct {
	Total   int64
	Sent    int64
	Failed  int64
	Pending int64
}
