package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tiendapos/invoicing/internal/repository"
	"gorm.io/gorm"
)

func createInvoicesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_invoices",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InvoiceModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_invoices_status_created ON invoices (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_invoices_stranded_created ON invoices (created_at) WHERE status IN ('UNSENT', 'CONTINGENCY')`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InvoiceModel{})
		},
	}
}
