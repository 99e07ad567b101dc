package sfe

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/google/uuid"
	"github.com/tiendapos/invoicing/internal/domain"
)

const (
	defaultSuccessRate   = 0.8
	defaultTransientRate = 0.1
)

// Simulator stands in for the real invoicing service when no endpoint is
// configured. It accepts most invoices, fails some transiently and a few
// permanently, mirroring the behavior a live service exhibits.
type Simulator struct {
	successRate   float64
	transientRate float64
	randFloat     func() float64
	newReference  func() string
}

func NewSimulator(successRate, transientRate float64) *Simulator {
	if successRate < 0 || successRate > 1 {
		successRate = defaultSuccessRate
	}
	if transientRate < 0 || successRate+transientRate > 1 {
		transientRate = defaultTransientRate
		if successRate+transientRate > 1 {
			transientRate = 1 - successRate
		}
	}

	return &Simulator{
		successRate:   successRate,
		transientRate: transientRate,
		randFloat:     rand.Float64,
		newReference:  uuid.NewString,
	}
}

func (s *Simulator) Submit(ctx context.Context, invoice domain.Invoice) (*Response, error) {
	if s == nil {
		return nil, fmt.Errorf("simulator is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roll := s.randFloat()

	if roll < s.successRate {
		return &Response{
			StatusCode:      http.StatusOK,
			Body:            `{"status":"accepted"}`,
			RemoteReference: s.newReference(),
		}, nil
	}

	if roll < s.successRate+s.transientRate {
		return nil, &Error{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "invoicing service temporarily unavailable (simulated)",
			Transient:  true,
		}
	}

	return nil, &Error{
		StatusCode: http.StatusUnprocessableEntity,
		Message:    "invoice data rejected (simulated)",
		Transient:  false,
	}
}
