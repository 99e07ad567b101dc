package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiendapos/invoicing/internal/domain"
	"github.com/tiendapos/invoicing/internal/queue"
	"github.com/tiendapos/invoicing/internal/sfe"
)

func pendingInvoice(id int64, attempts int) *domain.Invoice {
	return &domain.Invoice{
		ID:           id,
		Payload:      validSale,
		Status:       domain.StatusQueued,
		AttemptCount: attempts,
	}
}

func newTestWorker(t *testing.T, repo *fakeInvoiceRepo, attempts *fakeAttemptRepo, publisher *fakePublisher, client sfe.Client) *WorkerService {
	t.Helper()

	worker, err := NewWorkerService(
		repo,
		attempts,
		&fakeConsumer{},
		publisher,
		client,
		&fakeRateLimiter{},
		nil,
		2,
		5,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return worker
}

func TestWorkerServiceProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.InvoiceAttempt
	var incremented bool
	var acceptedRef string

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 0), nil
		},
		incrementAttemptFn: func(ctx context.Context, id int64) error {
			incremented = true
			return nil
		},
		setAcceptedFn: func(ctx context.Context, id int64, remoteReference string) error {
			acceptedRef = remoteReference
			return nil
		},
	}
	attemptRepo := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.InvoiceAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			return &sfe.Response{StatusCode: 200, Body: `{"reference":"SFE-001"}`, RemoteReference: "SFE-001"}, nil
		},
	}

	worker := newTestWorker(t, repo, attemptRepo, &fakePublisher{}, client)

	err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 1})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if !incremented {
		t.Fatal("attempt count should be incremented before the remote call")
	}
	if acceptedRef != "SFE-001" {
		t.Fatalf("remote reference = %q, want SFE-001", acceptedRef)
	}
	if gotAttempt == nil {
		t.Fatal("attempt should be recorded")
	}
	if gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt number = %d, want 1", gotAttempt.AttemptNumber)
	}
	if gotAttempt.StatusCode == nil || *gotAttempt.StatusCode != 200 {
		t.Fatalf("attempt status code = %v, want 200", gotAttempt.StatusCode)
	}
}

func TestWorkerServiceProcessMessageTransientRetry(t *testing.T) {
	t.Parallel()

	var retryMsg *queue.InvoiceMessage
	var storedStatus domain.Status
	var storedErr *string

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 0), nil
		},
		setStatusFn: func(ctx context.Context, id int64, status domain.Status, lastError *string) error {
			storedStatus = status
			storedErr = lastError
			return nil
		},
	}
	publisher := &fakePublisher{
		publishRetryFn: func(ctx context.Context, msg queue.InvoiceMessage) error {
			retryMsg = &msg
			return nil
		},
		publishFn: func(ctx context.Context, msg queue.InvoiceMessage) error {
			t.Fatal("retries go through PublishRetry, not Publish")
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			return nil, &sfe.Error{StatusCode: 503, Message: "service unavailable", Transient: true}
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, publisher, client)

	err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 2})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if storedStatus != domain.StatusQueued {
		t.Fatalf("stored status = %s, want QUEUED", storedStatus)
	}
	if storedErr == nil || !strings.Contains(*storedErr, "service unavailable") {
		t.Fatalf("stored error = %v, want the submit failure", storedErr)
	}
	if retryMsg == nil {
		t.Fatal("retry should be scheduled")
	}
	if retryMsg.InvoiceID != 2 || retryMsg.AttemptCount != 1 {
		t.Fatalf("retry message = %+v, want {2 1}", *retryMsg)
	}
}

func TestWorkerServiceProcessMessageRetryExhausted(t *testing.T) {
	t.Parallel()

	var storedStatus domain.Status
	var storedErr *string

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 4), nil
		},
		setStatusFn: func(ctx context.Context, id int64, status domain.Status, lastError *string) error {
			storedStatus = status
			storedErr = lastError
			return nil
		},
	}
	publisher := &fakePublisher{
		publishRetryFn: func(ctx context.Context, msg queue.InvoiceMessage) error {
			t.Fatal("no retry after the limit is reached")
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			return nil, &sfe.Error{StatusCode: 503, Message: "service unavailable", Transient: true}
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, publisher, client)

	err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 3, AttemptCount: 4})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if storedStatus != domain.StatusRejected {
		t.Fatalf("stored status = %s, want REJECTED", storedStatus)
	}
	if storedErr == nil || !strings.Contains(*storedErr, "retry limit exceeded") {
		t.Fatalf("stored error = %v, want retry limit message", storedErr)
	}
}

func TestWorkerServiceProcessMessagePermanentRejection(t *testing.T) {
	t.Parallel()

	var storedStatus domain.Status

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 0), nil
		},
		setStatusFn: func(ctx context.Context, id int64, status domain.Status, lastError *string) error {
			storedStatus = status
			return nil
		},
	}
	publisher := &fakePublisher{
		publishRetryFn: func(ctx context.Context, msg queue.InvoiceMessage) error {
			t.Fatal("permanent rejections are not retried")
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			return nil, &sfe.Error{StatusCode: 422, Message: "invalid tax id", Transient: false}
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, publisher, client)

	err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 4})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if storedStatus != domain.StatusRejected {
		t.Fatalf("stored status = %s, want REJECTED", storedStatus)
	}
}

func TestWorkerServiceProcessMessageSkipsTerminal(t *testing.T) {
	t.Parallel()

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return &domain.Invoice{ID: id, Status: domain.StatusAccepted}, nil
		},
		incrementAttemptFn: func(ctx context.Context, id int64) error {
			t.Fatal("terminal invoices are not retried")
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			t.Fatal("terminal invoices are not submitted")
			return nil, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, &fakePublisher{}, client)

	if err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 5}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestWorkerServiceProcessMessageMissingInvoice(t *testing.T) {
	t.Parallel()

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return nil, domain.ErrNotFound
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, &fakePublisher{}, &fakeSFEClient{})

	// Missing invoice acks the message; requeueing can never succeed.
	if err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 6}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestWorkerServiceProcessMessageDuplicateDelivery(t *testing.T) {
	t.Parallel()

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 0), nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			t.Fatal("duplicate deliveries are not submitted")
			return nil, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, &fakePublisher{}, client)
	worker.guard = &fakeGuard{
		concludedFn: func(ctx context.Context, invoiceID int64, attempt int) (bool, error) {
			return true, nil
		},
	}

	if err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 7}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestWorkerServiceProcessMessageGuardFailureDegradesOpen(t *testing.T) {
	t.Parallel()

	var submitted bool

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			return pendingInvoice(id, 0), nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
			submitted = true
			return &sfe.Response{StatusCode: 200, RemoteReference: "SFE-002"}, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, &fakePublisher{}, client)
	worker.guard = &fakeGuard{
		concludedFn: func(ctx context.Context, invoiceID int64, attempt int) (bool, error) {
			return false, errors.New("redis down")
		},
	}

	if err := worker.processMessage(context.Background(), queue.InvoiceMessage{InvoiceID: 8}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if !submitted {
		t.Fatal("guard failure should not block the submission")
	}
}

// A delivery that fails before reaching an outcome is nacked and redelivered.
// The guard must not treat that redelivery as a duplicate, or the invoice
// would stay queued forever.
func TestWorkerServiceProcessMessageRedeliveryAfterMidFlightFailure(t *testing.T) {
	t.Parallel()

	invoice := pendingInvoice(99, 0)
	incrementCalls := 0
	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			copied := *invoice
			return &copied, nil
		},
		incrementAttemptFn: func(ctx context.Context, id int64) error {
			incrementCalls++
			if incrementCalls == 1 {
				return fmt.Errorf("%w: connection reset", domain.ErrStorage)
			}
			invoice.AttemptCount++
			return nil
		},
		setAcceptedFn: func(ctx context.Context, id int64, reference string) error {
			invoice.Status = domain.StatusAccepted
			return nil
		},
	}

	submissions := 0
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, inv domain.Invoice) (*sfe.Response, error) {
			submissions++
			return &sfe.Response{StatusCode: 200, RemoteReference: "SFE-099"}, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, &fakePublisher{}, client)
	worker.guard = newMemoryGuard()

	msg := queue.InvoiceMessage{InvoiceID: 99}

	// First delivery dies before the attempt concludes; the message is
	// requeued.
	if err := worker.processMessage(context.Background(), msg); err == nil {
		t.Fatal("processMessage() expected error when the attempt increment fails")
	}
	if submissions != 0 {
		t.Fatalf("submissions = %d before a successful increment, want 0", submissions)
	}

	// The redelivery must be processed, not skipped as a duplicate.
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() redelivery error = %v", err)
	}
	if submissions != 1 {
		t.Fatalf("submissions = %d after redelivery, want 1", submissions)
	}
	if invoice.Status != domain.StatusAccepted {
		t.Fatalf("invoice status = %s, want %s", invoice.Status, domain.StatusAccepted)
	}

	// A concluded attempt leaves a marker, so replaying the same delivery
	// is now skipped by the terminal check or the guard.
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() replay error = %v", err)
	}
	if submissions != 1 {
		t.Fatalf("submissions = %d after replay, want 1", submissions)
	}
}

func TestWorkerServiceTransientFailuresThenSuccess(t *testing.T) {
	t.Parallel()

	invoice := pendingInvoice(20, 0)
	var retries []queue.InvoiceMessage
	var accepted bool
	calls := 0

	repo := &fakeInvoiceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Invoice, error) {
			copied := *invoice
			return &copied, nil
		},
		incrementAttemptFn: func(ctx context.Context, id int64) error {
			invoice.AttemptCount++
			return nil
		},
		setStatusFn: func(ctx context.Context, id int64, status domain.Status, lastError *string) error {
			if status != domain.StatusQueued {
				t.Fatalf("status = %s, want QUEUED between transient attempts", status)
			}
			invoice.Status = status
			return nil
		},
		setAcceptedFn: func(ctx context.Context, id int64, remoteReference string) error {
			accepted = true
			invoice.Status = domain.StatusAccepted
			return nil
		},
	}
	publisher := &fakePublisher{
		publishRetryFn: func(ctx context.Context, msg queue.InvoiceMessage) error {
			retries = append(retries, msg)
			return nil
		},
	}
	client := &fakeSFEClient{
		submitFn: func(ctx context.Context, inv domain.Invoice) (*sfe.Response, error) {
			calls++
			if calls <= 2 {
				return nil, &sfe.Error{StatusCode: 503, Message: "busy", Transient: true}
			}
			return &sfe.Response{StatusCode: 200, RemoteReference: "SFE-020"}, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, publisher, client)

	// Each loop iteration stands in for one broker delivery, including the
	// delayed redeliveries from the retry tiers.
	deliveries := []queue.InvoiceMessage{
		{InvoiceID: 20, AttemptCount: 0},
		{InvoiceID: 20, AttemptCount: 1},
		{InvoiceID: 20, AttemptCount: 2},
	}
	for _, msg := range deliveries {
		if err := worker.processMessage(context.Background(), msg); err != nil {
			t.Fatalf("processMessage(%+v) error = %v", msg, err)
		}
	}

	if !accepted {
		t.Fatal("invoice should end accepted")
	}
	if invoice.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", invoice.AttemptCount)
	}
	if len(retries) != 2 {
		t.Fatalf("retries = %d, want 2", len(retries))
	}
	if retries[0].AttemptCount != 1 || retries[1].AttemptCount != 2 {
		t.Fatalf("retry attempt counts = %d,%d, want 1,2", retries[0].AttemptCount, retries[1].AttemptCount)
	}
}

type fakeSFEClient struct {
	submitFn func(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error)
}

func (f *fakeSFEClient) Submit(ctx context.Context, invoice domain.Invoice) (*sfe.Response, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, invoice)
	}
	return &sfe.Response{StatusCode: 200}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context) (bool, error)
	waitFn  func(ctx context.Context) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context) error {
	if f.waitFn != nil {
		return f.waitFn(ctx)
	}
	return nil
}

type fakeGuard struct {
	concludedFn     func(ctx context.Context, invoiceID int64, attempt int) (bool, error)
	markConcludedFn func(ctx context.Context, invoiceID int64, attempt int) error
}

func (f *fakeGuard) Concluded(ctx context.Context, invoiceID int64, attempt int) (bool, error) {
	if f.concludedFn != nil {
		return f.concludedFn(ctx, invoiceID, attempt)
	}
	return false, nil
}

func (f *fakeGuard) MarkConcluded(ctx context.Context, invoiceID int64, attempt int) error {
	if f.markConcludedFn != nil {
		return f.markConcludedFn(ctx, invoiceID, attempt)
	}
	return nil
}

// memoryGuard mimics the redis guard: markers exist only once an attempt
// concluded.
type memoryGuard struct {
	seen map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: make(map[string]bool)}
}

func (g *memoryGuard) Concluded(_ context.Context, invoiceID int64, attempt int) (bool, error) {
	return g.seen[fmt.Sprintf("%d:%d", invoiceID, attempt)], nil
}

func (g *memoryGuard) MarkConcluded(_ context.Context, invoiceID int64, attempt int) error {
	g.seen[fmt.Sprintf("%d:%d", invoiceID, attempt)] = true
	return nil
}
