package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiendapos/invoicing/internal/domain"
	"gorm.io/gorm"
)

var terminalStatuses = []domain.Status{domain.StatusAccepted, domain.StatusRejected}

type InvoiceRepository interface {
	CreatePending(ctx context.Context, payload string) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Invoice, error)
	GetStatus(ctx context.Context, id int64) (domain.Status, error)
	SetStatus(ctx context.Context, id int64, status domain.Status, lastError *string) error
	SetAccepted(ctx context.Context, id int64, remoteReference string) error
	IncrementAttempt(ctx context.Context, id int64) error
	MarkContingencyIfUnsent(ctx context.Context, id int64) (bool, error)
	ListStranded(ctx context.Context, olderThan time.Time, limit int) ([]domain.Invoice, error)
}

type GormInvoiceRepo struct {
	db *gorm.DB
}

func NewGormInvoiceRepo(db *gorm.DB) *GormInvoiceRepo {
	return &GormInvoiceRepo{db: db}
}

func (r *GormInvoiceRepo) CreatePending(ctx context.Context, payload string) (int64, error) {
	model := &InvoiceModel{
		Payload:      payload,
		Status:       domain.StatusUnsent,
		AttemptCount: 0,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return 0, fmt.Errorf("%w: failed to create invoice: %v", domain.ErrStorage, err)
	}
	return model.ID, nil
}

func (r *GormInvoiceRepo) GetByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load invoice %d: %v", domain.ErrStorage, id, err)
	}
	return invoiceModelToDomain(&model), nil
}

func (r *GormInvoiceRepo) GetStatus(ctx context.Context, id int64) (domain.Status, error) {
	invoice, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return invoice.Status, nil
}

// SetStatus writes status and last_error in one atomic UPDATE. Records that
// already reached a terminal status are left untouched; re-applying a
// terminal status is a harmless no-op.
func (r *GormInvoiceRepo) SetStatus(ctx context.Context, id int64, status domain.Status, lastError *string) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	updates := map[string]any{"status": status}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%w: failed to update invoice %d: %v", domain.ErrStorage, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainUnchanged(ctx, id)
	}
	return nil
}

func (r *GormInvoiceRepo) SetAccepted(ctx context.Context, id int64, remoteReference string) error {
	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":           domain.StatusAccepted,
			"remote_reference": remoteReference,
		})
	if result.Error != nil {
		return fmt.Errorf("%w: failed to accept invoice %d: %v", domain.ErrStorage, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainUnchanged(ctx, id)
	}
	return nil
}

func (r *GormInvoiceRepo) IncrementAttempt(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("%w: failed to increment attempts for invoice %d: %v", domain.ErrStorage, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkContingencyIfUnsent promotes a stranded UNSENT invoice. Returns false
// without error when the invoice moved on in the meantime.
func (r *GormInvoiceRepo) MarkContingencyIfUnsent(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND status = ?", id, domain.StatusUnsent).
		Update("status", domain.StatusContingency)
	if result.Error != nil {
		return false, fmt.Errorf("%w: failed to mark invoice %d contingency: %v", domain.ErrStorage, id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListStranded returns invoices that never reached the queue: still UNSENT
// past the grace period, or held in CONTINGENCY from an earlier sweep whose
// re-enqueue also failed.
func (r *GormInvoiceRepo) ListStranded(ctx context.Context, olderThan time.Time, limit int) ([]domain.Invoice, error) {
	var models []InvoiceModel
	strandedStatuses := []domain.Status{domain.StatusUnsent, domain.StatusContingency}
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ?", strandedStatuses, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list stranded invoices: %v", domain.ErrStorage, err)
	}

	invoices := make([]domain.Invoice, 0, len(models))
	for i := range models {
		invoices = append(invoices, *invoiceModelToDomain(&models[i]))
	}
	return invoices, nil
}

// explainUnchanged distinguishes "unknown id" from "already terminal" after
// a guarded UPDATE touched no rows.
func (r *GormInvoiceRepo) explainUnchanged(ctx context.Context, id int64) error {
	var model InvoiceModel
	err := r.db.WithContext(ctx).Select("status").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: failed to inspect invoice %d: %v", domain.ErrStorage, id, err)
	}
	return nil
}
