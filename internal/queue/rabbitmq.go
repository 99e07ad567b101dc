package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "invoicing.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 5 * time.Second
)

// RabbitMQ manages broker connectivity and topology declaration. A client
// whose broker is down is degraded, not broken: each channel request makes
// one bounded dial attempt and fails fast, so the producer path keeps
// answering within its own deadline while the broker recovers.
type RabbitMQ struct {
	url         string
	maxAttempts int
	baseDelay   time.Duration

	mu sync.RWMutex
	// dialGate serializes dial attempts. Waiters block on their own
	// context, never on a mutex, so one slow dial cannot hold an
	// unrelated caller past its deadline.
	dialGate chan struct{}
	conn     *amqp.Connection
}

// NewRabbitMQ builds a client for the invoice queue topology. It does not
// dial; call Connect for an eager connection check, or let the first publish
// or consume establish it.
func NewRabbitMQ(url string, maxAttempts int, baseDelay time.Duration) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseRetryDelay
	}

	return &RabbitMQ{
		url:         url,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		dialGate:    make(chan struct{}, 1),
	}, nil
}

// Connect dials the broker once, bounded by ctx. Callers on the producer
// path may log and ignore the error; the client stays usable and will keep
// retrying lazily.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	return r.ensureConnected(ctx)
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.dial(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.dial(ctx)
}

// dial makes a single connection attempt, bounded by the caller's deadline
// and capped at dialTimeout. Retrying across attempts belongs to the
// callers that can afford it, such as the consumer loop.
func (r *RabbitMQ) dial(ctx context.Context) error {
	select {
	case r.dialGate <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rabbitmq connect aborted: %w", ctx.Err())
	}
	defer func() { <-r.dialGate }()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect aborted: %w", err)
	}

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	newConn, err := amqp.DialConfig(r.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	r.mu.Lock()
	oldConn := r.conn
	r.conn = newConn
	r.mu.Unlock()

	if oldConn != nil && !oldConn.IsClosed() {
		_ = oldConn.Close()
	}

	return nil
}

// declareTopology declares the work queue, its dead-letter queue, and one
// TTL-backed delay queue per retriable attempt. Declarations are idempotent
// and safe to repeat on every channel open.
func (r *RabbitMQ) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		dlxExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	dlqName := DLQName()
	if _, err := ch.QueueDeclare(
		dlqName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, InvoiceQueue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	workArgs := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": InvoiceQueue,
	}
	if _, err := ch.QueueDeclare(
		InvoiceQueue,
		true,
		false,
		false,
		false,
		workArgs,
	); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", InvoiceQueue, err)
	}

	// Delay tiers: expired messages dead-letter through the default
	// exchange straight back into the work queue.
	for attempts := 1; attempts < r.maxAttempts; attempts++ {
		retryName := RetryQueueName(attempts)
		retryArgs := amqp.Table{
			"x-message-ttl":             RetryDelay(r.baseDelay, attempts).Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": InvoiceQueue,
		}
		if _, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			retryArgs,
		); err != nil {
			return fmt.Errorf("failed to declare retry queue %q: %w", retryName, err)
		}
	}

	return nil
}
