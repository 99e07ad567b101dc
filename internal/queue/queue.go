package queue

import (
	"context"
	"fmt"
	"time"
)

const (
	// InvoiceQueue is the single durable work queue of the pipeline.
	InvoiceQueue = "invoices"

	defaultBaseRetryDelay = time.Second
	maxRetryDelay         = 60 * time.Second
)

// Publisher publishes invoice messages to the broker.
type Publisher interface {
	// Publish enqueues a message on the work queue.
	Publish(ctx context.Context, msg InvoiceMessage) error
	// PublishRetry enqueues a message on the delay tier matching its
	// attempt count; the broker redelivers it to the work queue after the
	// backoff expires.
	PublishRetry(ctx context.Context, msg InvoiceMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A nil result acks the
// delivery; an error requeues it.
type MessageHandler func(ctx context.Context, msg InvoiceMessage) error

// Consumer consumes invoice messages from a queue, one at a time.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue holding poison messages.
func DLQName() string {
	return fmt.Sprintf("dlq.%s", InvoiceQueue)
}

// RetryQueueName returns the delay queue used after the given number of
// attempts has failed.
func RetryQueueName(attempts int) string {
	return fmt.Sprintf("%s.retry.%d", InvoiceQueue, attempts)
}

// RetryDelay computes the exponential backoff before redelivering a message
// whose attempt count is attempts: base * 2^attempts, capped.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = defaultBaseRetryDelay
	}
	if attempts < 0 {
		attempts = 0
	}

	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
