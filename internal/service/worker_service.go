package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiendapos/invoicing/internal/dedup"
	"github.com/tiendapos/invoicing/internal/domain"
	"github.com/tiendapos/invoicing/internal/observability"
	"github.com/tiendapos/invoicing/internal/queue"
	"github.com/tiendapos/invoicing/internal/ratelimit"
	"github.com/tiendapos/invoicing/internal/repository"
	"github.com/tiendapos/invoicing/internal/sfe"
)

const (
	minWorkerConcurrency = 1
	defaultMaxAttempts   = 5
)

// WorkerService drains the invoice queue and drives each invoice to a
// terminal status against the remote invoicing service.
type WorkerService struct {
	invoices    repository.InvoiceRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	publisher   queue.Publisher
	client      sfe.Client
	rateLimiter ratelimit.RateLimiter
	guard       dedup.AttemptGuard
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	now         func() time.Time
}

func NewWorkerService(
	invoices repository.InvoiceRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	client sfe.Client,
	rateLimiter ratelimit.RateLimiter,
	guard dedup.AttemptGuard,
	concurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if invoices == nil {
		return nil, fmt.Errorf("invoice repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if client == nil {
		return nil, fmt.Errorf("invoicing client is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		invoices:    invoices,
		attempts:    attempts,
		consumer:    consumer,
		publisher:   publisher,
		client:      client,
		rateLimiter: rateLimiter,
		guard:       guard,
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the work queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.InvoiceQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.InvoiceQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.InvoiceMessage) error {
	// Every log line for this delivery shares the invoice id.
	ctx = observability.WithCorrelationID(ctx, strconv.FormatInt(msg.InvoiceID, 10))

	// The message only names the invoice; the store holds the payload and
	// the attempt history.
	invoice, err := s.invoices.GetByID(ctx, msg.InvoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logFor(ctx).Warn("invoice not found, dropping message")
			return nil
		}
		return fmt.Errorf("failed to load invoice %d: %w", msg.InvoiceID, err)
	}

	// A redelivered message for an invoice another delivery already
	// finished. Ack and move on.
	if invoice.Status.IsTerminal() {
		s.logFor(ctx).Info("invoice already terminal, skipping",
			zap.String("status", string(invoice.Status)),
		)
		return nil
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	attemptNumber := invoice.AttemptCount + 1
	if skip := s.isDuplicateDelivery(ctx, invoice.ID, attemptNumber); skip {
		return nil
	}

	if err := s.invoices.IncrementAttempt(ctx, invoice.ID); err != nil {
		return fmt.Errorf("failed to increment attempt count for invoice %d: %w", invoice.ID, err)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	submitStart := s.now()
	resp, submitErr := s.client.Submit(ctx, *invoice)
	s.metrics.ObserveSubmitDuration(s.now().Sub(submitStart))

	if err := s.recordAttempt(ctx, invoice.ID, attemptNumber, resp, submitErr); err != nil {
		s.logFor(ctx).Error("failed to record attempt",
			zap.Int("attempt", attemptNumber),
			zap.Error(err),
		)
	}

	if submitErr == nil {
		reference := ""
		if resp != nil {
			reference = resp.RemoteReference
		}
		if err := s.invoices.SetAccepted(ctx, invoice.ID, reference); err != nil {
			return fmt.Errorf("failed to mark invoice %d as accepted: %w", invoice.ID, err)
		}
		s.markConcluded(ctx, invoice.ID, attemptNumber)
		s.metrics.IncInvoiceAccepted()
		s.logFor(ctx).Info("invoice accepted",
			zap.Int("attempt", attemptNumber),
			zap.String("remoteReference", reference),
		)
		return nil
	}

	errMsg := submitErr.Error()
	if sfe.IsTransient(submitErr) {
		if attemptNumber < s.maxAttempts {
			return s.scheduleRetry(ctx, invoice.ID, attemptNumber, errMsg)
		}
		return s.reject(ctx, invoice.ID, attemptNumber, "retry_exhausted",
			fmt.Sprintf("retry limit exceeded after %d attempts: %s", attemptNumber, errMsg))
	}

	return s.reject(ctx, invoice.ID, attemptNumber, "permanent_error", errMsg)
}

// scheduleRetry leaves the invoice queued and parks the message on a delay
// tier; the broker redelivers it after the backoff expires. The worker never
// sleeps between attempts.
func (s *WorkerService) scheduleRetry(ctx context.Context, invoiceID int64, attemptNumber int, errMsg string) error {
	if err := s.invoices.SetStatus(ctx, invoiceID, domain.StatusQueued, &errMsg); err != nil {
		return fmt.Errorf("failed to mark invoice %d for retry: %w", invoiceID, err)
	}

	msg := queue.InvoiceMessage{InvoiceID: invoiceID, AttemptCount: attemptNumber}
	if err := s.publisher.PublishRetry(ctx, msg); err != nil {
		return fmt.Errorf("failed to schedule retry for invoice %d: %w", invoiceID, err)
	}

	s.markConcluded(ctx, invoiceID, attemptNumber)
	s.metrics.IncRetryScheduled()
	s.logFor(ctx).Warn("invoice submission failed, retry scheduled",
		zap.Int("attempt", attemptNumber),
		zap.String("error", errMsg),
	)
	return nil
}

func (s *WorkerService) reject(ctx context.Context, invoiceID int64, attemptNumber int, reason string, errMsg string) error {
	if err := s.invoices.SetStatus(ctx, invoiceID, domain.StatusRejected, &errMsg); err != nil {
		return fmt.Errorf("failed to mark invoice %d as rejected: %w", invoiceID, err)
	}
	s.markConcluded(ctx, invoiceID, attemptNumber)
	s.metrics.IncInvoiceRejected(reason)
	s.logFor(ctx).Warn("invoice rejected",
		zap.String("reason", reason),
		zap.String("error", errMsg),
	)
	return nil
}

// isDuplicateDelivery consults the attempt guard. Only attempts that
// reached an outcome carry a marker; a delivery that failed mid-flight
// leaves none, so its redelivery is processed again. Guard failures degrade
// open: a duplicate submission is recoverable, a stalled pipeline is not.
func (s *WorkerService) isDuplicateDelivery(ctx context.Context, invoiceID int64, attemptNumber int) bool {
	if s.guard == nil {
		return false
	}

	concluded, err := s.guard.Concluded(ctx, invoiceID, attemptNumber)
	if err != nil {
		s.logFor(ctx).Warn("attempt guard unavailable, proceeding", zap.Error(err))
		return false
	}
	if concluded {
		s.logFor(ctx).Info("duplicate delivery of a finished attempt, skipping",
			zap.Int("attempt", attemptNumber),
		)
		return true
	}
	return false
}

// markConcluded stamps the attempt after its outcome is durable. Failures
// only cost dedup for this attempt, so they are logged and swallowed.
func (s *WorkerService) markConcluded(ctx context.Context, invoiceID int64, attemptNumber int) {
	if s.guard == nil {
		return
	}
	if err := s.guard.MarkConcluded(ctx, invoiceID, attemptNumber); err != nil {
		s.logFor(ctx).Warn("failed to record finished attempt", zap.Error(err))
	}
}

func (s *WorkerService) logFor(ctx context.Context) *zap.Logger {
	return observability.WithContextLogger(s.logger, ctx)
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	invoiceID int64,
	attemptNumber int,
	resp *sfe.Response,
	submitErr error,
) error {
	if s.attempts == nil {
		return nil
	}

	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if resp != nil {
		if resp.StatusCode > 0 {
			value := resp.StatusCode
			statusCode = &value
		}
		if resp.Body != "" {
			value := resp.Body
			responseBody = &value
		}
	}

	if submitErr != nil {
		value := submitErr.Error()
		attemptErr = &value

		var sfeErr *sfe.Error
		if errors.As(submitErr, &sfeErr) && sfeErr.StatusCode > 0 && statusCode == nil {
			value := sfeErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.InvoiceAttempt{
		ID:            uuid.NewString(),
		InvoiceID:     invoiceID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}
