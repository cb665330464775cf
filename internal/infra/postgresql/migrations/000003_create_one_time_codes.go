package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createOneTimeCodesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_one_time_codes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OneTimeCodeModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_otp_scope_latest ON one_time_codes (identifier, channel, purpose, is_used, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_otp_expires_at ON one_time_codes (expires_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OneTimeCodeModel{})
		},
	}
}
