package repository

import (
	"context"
	"fmt"

	"github.com/tiendapos/invoicing/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.InvoiceAttempt) error
	GetByInvoiceID(ctx context.Context, invoiceID int64) ([]domain.InvoiceAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.InvoiceAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("%w: failed to record attempt: %v", domain.ErrStorage, err)
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByInvoiceID(ctx context.Context, invoiceID int64) ([]domain.InvoiceAttempt, error) {
	var models []InvoiceAttemptModel
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list attempts for invoice %d: %v", domain.ErrStorage, invoiceID, err)
	}

	attempts := make([]domain.InvoiceAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}
