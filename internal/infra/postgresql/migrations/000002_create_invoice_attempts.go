package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tiendapos/invoicing/internal/repository"
	"gorm.io/gorm"
)

func createInvoiceAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_invoice_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InvoiceAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_invoice_id ON invoice_attempts (invoice_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InvoiceAttemptModel{})
		},
	}
}
