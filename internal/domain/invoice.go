package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an invoice.
type Status string

const (
	// StatusUnsent is the initial state: recorded locally, not yet queued.
	StatusUnsent Status = "UNSENT"
	// StatusQueued means a message for the invoice sits in the work queue.
	StatusQueued Status = "QUEUED"
	// StatusContingency marks invoices stranded by a broker outage and
	// picked up by the recovery scanner.
	StatusContingency Status = "CONTINGENCY"
	// StatusAccepted is terminal: the remote endpoint accepted the invoice.
	StatusAccepted Status = "ACCEPTED"
	// StatusRejected is terminal: permanent failure or retry limit exceeded.
	StatusRejected Status = "REJECTED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusUnsent, StatusQueued, StatusContingency, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition may occur.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Invoice is the persistent record of one billing document, the single
// source of truth for what happened to it.
type Invoice struct {
	ID              int64
	Payload         string
	Status          Status
	RemoteReference *string
	AttemptCount    int
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InvoiceAttempt records a single remote submission attempt for audit.
type InvoiceAttempt struct {
	ID            string
	InvoiceID     int64
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
