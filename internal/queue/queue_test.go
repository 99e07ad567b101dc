package queue

import (
	"testing"
	"time"
)

func TestQueueNames(t *testing.T) {
	if DLQName() != "dlq.invoices" {
		t.Fatalf("DLQName() = %s, want dlq.invoices", DLQName())
	}

	if got := RetryQueueName(1); got != "invoices.retry.1" {
		t.Fatalf("RetryQueueName(1) = %s, want invoices.retry.1", got)
	}
	if got := RetryQueueName(4); got != "invoices.retry.4" {
		t.Fatalf("RetryQueueName(4) = %s, want invoices.retry.4", got)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		attempts int
		want     time.Duration
	}{
		{name: "first retry", base: time.Second, attempts: 1, want: 2 * time.Second},
		{name: "second retry", base: time.Second, attempts: 2, want: 4 * time.Second},
		{name: "fourth retry", base: time.Second, attempts: 4, want: 16 * time.Second},
		{name: "capped", base: time.Second, attempts: 20, want: maxRetryDelay},
		{name: "zero attempts", base: time.Second, attempts: 0, want: time.Second},
		{name: "negative attempts", base: time.Second, attempts: -3, want: time.Second},
		{name: "default base", base: 0, attempts: 1, want: 2 * time.Second},
		{name: "custom base", base: 500 * time.Millisecond, attempts: 3, want: 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryDelay(tt.base, tt.attempts); got != tt.want {
				t.Fatalf("RetryDelay(%v, %d) = %v, want %v", tt.base, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestInvoiceMessageValidate(t *testing.T) {
	valid := InvoiceMessage{InvoiceID: 42, AttemptCount: 0}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	missingID := InvoiceMessage{AttemptCount: 1}
	if err := missingID.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing invoice id")
	}

	negativeAttempts := InvoiceMessage{InvoiceID: 1, AttemptCount: -1}
	if err := negativeAttempts.Validate(); err == nil {
		t.Fatal("Validate() expected error for negative attempt count")
	}
}
