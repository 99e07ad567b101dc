package dedup

import "context"

// AttemptGuard records which delivery attempts have already concluded. The
// broker guarantees at-least-once delivery, so the same attempt of the same
// invoice can arrive twice; the guard lets the worker skip a redelivery of
// an attempt that already reached an outcome instead of issuing a duplicate
// document. An attempt is marked only after its outcome is durable, so a
// worker that dies mid-flight leaves no marker and the redelivery is
// processed normally.
type AttemptGuard interface {
	// Concluded reports whether this invoice/attempt pair already reached
	// an outcome.
	Concluded(ctx context.Context, invoiceID int64, attempt int) (bool, error)
	// MarkConcluded records that this invoice/attempt pair reached an
	// outcome.
	MarkConcluded(ctx context.Context, invoiceID int64, attempt int) error
}
