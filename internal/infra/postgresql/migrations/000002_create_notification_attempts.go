package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"gorm.io/gorm"
)

// attemptIndexes serves both the history listing (ordered by attempt number)
// and the MAX(attempt_number) lookup behind retry numbering.
var attemptIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_attempts_notification_number ON notification_attempts (notification_id, attempt_number)`,
}

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, attemptIndexes)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationAttemptModel{})
		},
	}
}
