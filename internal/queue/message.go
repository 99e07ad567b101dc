package queue

import "fmt"

// InvoiceMessage is the broker payload for invoice processing. It carries no
// invoice data; the worker loads the authoritative payload from the store.
type InvoiceMessage struct {
	InvoiceID    int64 `json:"invoiceId"`
	AttemptCount int   `json:"attemptCount"`
}

func (m InvoiceMessage) Validate() error {
	if m.InvoiceID <= 0 {
		return fmt.Errorf("invoiceId must be positive, got %d", m.InvoiceID)
	}
	if m.AttemptCount < 0 {
		return fmt.Errorf("attemptCount must be >= 0, got %d", m.AttemptCount)
	}
	return nil
}
