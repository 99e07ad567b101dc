package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tiendapos/invoicing/internal/dedup"
)

const defaultDedupTTL = 24 * time.Hour

var _ dedup.AttemptGuard = (*RedisAttemptGuard)(nil)

// RedisAttemptGuard deduplicates queue deliveries with a marker per
// invoice id + attempt number, written once the attempt has an outcome.
// Markers expire; long after the TTL the terminal-status check in the
// worker still protects finished invoices.
type RedisAttemptGuard struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisAttemptGuard(client *goredis.Client, ttl time.Duration) (*RedisAttemptGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &RedisAttemptGuard{
		client: client,
		ttl:    ttl,
	}, nil
}

func (g *RedisAttemptGuard) Concluded(ctx context.Context, invoiceID int64, attempt int) (bool, error) {
	if g == nil || g.client == nil {
		return false, fmt.Errorf("attempt guard is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	exists, err := g.client.Exists(ctx, attemptKey(invoiceID, attempt)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery attempt: %w", err)
	}

	return exists > 0, nil
}

func (g *RedisAttemptGuard) MarkConcluded(ctx context.Context, invoiceID int64, attempt int) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("attempt guard is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.client.Set(ctx, attemptKey(invoiceID, attempt), 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark delivery attempt: %w", err)
	}

	return nil
}

func attemptKey(invoiceID int64, attempt int) string {
	return fmt.Sprintf("invoice:%d:attempt:%d", invoiceID, attempt)
}
