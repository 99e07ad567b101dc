package repository

import (
	"time"

	"github.com/tiendapos/invoicing/internal/domain"
)

// InvoiceModel is the persistence model for the invoices table.
type InvoiceModel struct {
	ID              int64         `gorm:"primaryKey;autoIncrement"`
	Payload         string        `gorm:"type:text;not null"`
	Status          domain.Status `gorm:"type:varchar(20);not null"`
	RemoteReference *string       `gorm:"type:varchar(255)"`
	AttemptCount    int           `gorm:"not null;default:0"`
	LastError       *string       `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

// InvoiceAttemptModel is the persistence model for invoice_attempts.
type InvoiceAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	InvoiceID     int64   `gorm:"not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (InvoiceAttemptModel) TableName() string {
	return "invoice_attempts"
}

func invoiceModelToDomain(m *InvoiceModel) *domain.Invoice {
	if m == nil {
		return nil
	}

	return &domain.Invoice{
		ID:              m.ID,
		Payload:         m.Payload,
		Status:          m.Status,
		RemoteReference: m.RemoteReference,
		AttemptCount:    m.AttemptCount,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.InvoiceAttempt) *InvoiceAttemptModel {
	if a == nil {
		return nil
	}

	return &InvoiceAttemptModel{
		ID:            a.ID,
		InvoiceID:     a.InvoiceID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *InvoiceAttemptModel) *domain.InvoiceAttempt {
	if m == nil {
		return nil
	}

	return &domain.InvoiceAttempt{
		ID:            m.ID,
		InvoiceID:     m.InvoiceID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
