package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tiendapos/invoicing/internal/domain"
)

// RabbitMQPublisher publishes invoice messages with persistent delivery.
// Failures map to domain.ErrQueueUnavailable so producer-side callers can
// degrade instead of failing the sale.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg InvoiceMessage) error {
	return p.publish(ctx, InvoiceQueue, msg)
}

func (p *RabbitMQPublisher) PublishRetry(ctx context.Context, msg InvoiceMessage) error {
	if msg.AttemptCount < 1 {
		return fmt.Errorf("retry publish requires at least one attempt, got %d", msg.AttemptCount)
	}
	return p.publish(ctx, RetryQueueName(msg.AttemptCount), msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queueName string, msg InvoiceMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid invoice message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    strconv.FormatInt(msg.InvoiceID, 10),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return fmt.Errorf("%w: failed to publish to queue %q: %v", domain.ErrQueueUnavailable, queueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
