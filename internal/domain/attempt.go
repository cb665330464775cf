package domain

import "time"

// NotificationAttempt records a single provider invocation for a notification.
type NotificationAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Succeeded      bool
	Error          *string
	CreatedAt      time.Time
}
