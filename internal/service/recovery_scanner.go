package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tiendapos/invoicing/internal/domain"
	"github.com/tiendapos/invoicing/internal/observability"
	"github.com/tiendapos/invoicing/internal/queue"
	"github.com/tiendapos/invoicing/internal/repository"
)

const (
	defaultRecoveryScanInterval = time.Minute
	defaultRecoveryMinAge       = 2 * time.Minute
	defaultRecoveryScanLimit    = 100
	recoveryPublishTimeout      = 3 * time.Second
)

// RecoveryScanner periodically sweeps for invoices that never reached the
// queue, typically because the broker was down when the sale was made. It
// marks each one as held in contingency and re-enqueues it.
type RecoveryScanner struct {
	invoices  repository.InvoiceRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	minAge    time.Duration
	limit     int
	now       func() time.Time
}

func NewRecoveryScanner(
	invoices repository.InvoiceRepository,
	publisher queue.Publisher,
	interval time.Duration,
	minAge time.Duration,
	logger *zap.Logger,
) (*RecoveryScanner, error) {
	if invoices == nil {
		return nil, fmt.Errorf("invoice repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRecoveryScanInterval
	}
	if minAge <= 0 {
		minAge = defaultRecoveryMinAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryScanner{
		invoices:  invoices,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		minAge:    minAge,
		limit:     defaultRecoveryScanLimit,
		now:       time.Now,
	}, nil
}

func (s *RecoveryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RecoveryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so invoices stranded before a restart do not
	// wait for the first ticker edge.
	if err := s.scanStranded(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery scanner initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStranded(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("recovery scanner sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RecoveryScanner) scanStranded(ctx context.Context) error {
	cutoff := s.now().Add(-s.minAge)
	stranded, err := s.invoices.ListStranded(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list stranded invoices: %w", err)
	}

	for i := range stranded {
		invoice := stranded[i]

		// Another scanner instance may race for the same row; the
		// conditional update decides who owns it. Rows already in
		// contingency were claimed by an earlier sweep whose publish
		// failed, so they go straight back to the broker.
		if invoice.Status != domain.StatusContingency {
			claimed, err := s.invoices.MarkContingencyIfUnsent(ctx, invoice.ID)
			if err != nil {
				s.logger.Error("failed to claim stranded invoice",
					zap.Int64("invoiceId", invoice.ID),
					zap.Error(err),
				)
				continue
			}
			if !claimed {
				continue
			}
		}

		msg := queue.InvoiceMessage{InvoiceID: invoice.ID, AttemptCount: invoice.AttemptCount}
		// Each publish gets its own deadline; the sweep context lives as
		// long as the process and must not let one row hang the loop.
		publishCtx, cancel := context.WithTimeout(ctx, recoveryPublishTimeout)
		err := s.publisher.Publish(publishCtx, msg)
		cancel()
		if err != nil {
			// Still unreachable; the invoice stays in contingency
			// and the next sweep retries it.
			s.logger.Warn("failed to re-enqueue stranded invoice",
				zap.Int64("invoiceId", invoice.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.invoices.SetStatus(ctx, invoice.ID, domain.StatusQueued, nil); err != nil {
			s.logger.Error("failed to mark recovered invoice as queued",
				zap.Int64("invoiceId", invoice.ID),
				zap.Error(err),
			)
			continue
		}

		s.metrics.IncContingencyRecovered()
		s.logger.Info("stranded invoice re-enqueued",
			zap.Int64("invoiceId", invoice.ID),
		)
	}

	return nil
}
