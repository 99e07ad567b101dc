package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tiendapos/invoicing/internal/domain"
	"github.com/tiendapos/invoicing/internal/observability"
	"github.com/tiendapos/invoicing/internal/queue"
	"github.com/tiendapos/invoicing/internal/repository"
)

const defaultPublishTimeout = 3 * time.Second

// InvoiceService is the producer facade of the pipeline. A sale terminal
// calls IssueInvoice and returns to its customer immediately; delivery to
// the electronic invoicing service happens out of band.
type InvoiceService struct {
	invoices       repository.InvoiceRepository
	publisher      queue.Publisher
	logger         *zap.Logger
	metrics        *observability.Metrics
	publishTimeout time.Duration
}

func NewInvoiceService(
	invoices repository.InvoiceRepository,
	publisher queue.Publisher,
	publishTimeout time.Duration,
	logger *zap.Logger,
) (*InvoiceService, error) {
	if invoices == nil {
		return nil, fmt.Errorf("invoice repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InvoiceService{
		invoices:       invoices,
		publisher:      publisher,
		logger:         logger,
		publishTimeout: publishTimeout,
	}, nil
}

func (s *InvoiceService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// IssueInvoice persists the sale payload and hands it to the queue. When the
// broker is unreachable the invoice stays stored with its initial status and
// the call still succeeds; the recovery scanner re-enqueues it later. The
// sale is never blocked on invoicing.
func (s *InvoiceService) IssueInvoice(ctx context.Context, payload []byte) (*domain.Invoice, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := domain.ValidateSalePayload(payload); err != nil {
		return nil, err
	}

	id, err := s.invoices.CreatePending(ctx, string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to store invoice: %w", err)
	}

	invoice := &domain.Invoice{
		ID:      id,
		Payload: string(payload),
		Status:  domain.StatusUnsent,
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	msg := queue.InvoiceMessage{InvoiceID: id, AttemptCount: 0}
	if err := s.publisher.Publish(publishCtx, msg); err != nil {
		if !errors.Is(err, domain.ErrQueueUnavailable) {
			return nil, fmt.Errorf("failed to enqueue invoice %d: %w", id, err)
		}

		s.logger.Warn("broker unavailable, invoice stored for recovery",
			zap.Int64("invoiceId", id),
			zap.Error(err),
		)
		s.metrics.IncPublishFailure()
		return invoice, nil
	}

	// The message is already on the queue; a failed status flip must not
	// turn an enqueued sale into an error. The record stays UNSENT until
	// the worker or the recovery scanner touches it next.
	if err := s.invoices.SetStatus(ctx, id, domain.StatusQueued, nil); err != nil {
		s.logger.Warn("invoice enqueued but status update failed",
			zap.Int64("invoiceId", id),
			zap.Error(err),
		)
		return invoice, nil
	}
	invoice.Status = domain.StatusQueued

	return invoice, nil
}

func (s *InvoiceService) GetByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invoice id must be positive", domain.ErrValidation)
	}
	return s.invoices.GetByID(ctx, id)
}

func (s *InvoiceService) GetStatus(ctx context.Context, id int64) (domain.Status, error) {
	if id <= 0 {
		return "", fmt.Errorf("%w: invoice id must be positive", domain.ErrValidation)
	}
	return s.invoices.GetStatus(ctx, id)
}
