package sfe

import (
	"context"
	"errors"
	"testing"

	"github.com/tiendapos/invoicing/internal/domain"
)

func TestSimulatorOutcomes(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(0.8, 0.1)
	sim.newReference = func() string { return "sim-ref-1" }

	// Roll below the success threshold: accepted.
	sim.randFloat = func() float64 { return 0.5 }
	resp, err := sim.Submit(context.Background(), domain.Invoice{ID: 1})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.RemoteReference != "sim-ref-1" {
		t.Fatalf("remote reference = %q, want sim-ref-1", resp.RemoteReference)
	}

	// Roll in the transient band.
	sim.randFloat = func() float64 { return 0.85 }
	_, err = sim.Submit(context.Background(), domain.Invoice{ID: 1})
	if !IsTransient(err) {
		t.Fatalf("Submit() error = %v, want transient", err)
	}

	// Roll in the permanent band.
	sim.randFloat = func() float64 { return 0.95 }
	_, err = sim.Submit(context.Background(), domain.Invoice{ID: 1})
	if err == nil || IsTransient(err) {
		t.Fatalf("Submit() error = %v, want permanent", err)
	}

	var sfeErr *Error
	if !errors.As(err, &sfeErr) {
		t.Fatalf("Submit() error type = %T, want *Error", err)
	}
	if sfeErr.StatusCode != 422 {
		t.Fatalf("status code = %d, want 422", sfeErr.StatusCode)
	}
}

func TestSimulatorHonorsContext(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sim.Submit(ctx, domain.Invoice{ID: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestNewSimulatorClampsRates(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(-1, 5)
	if sim.successRate != defaultSuccessRate {
		t.Fatalf("successRate = %v, want %v", sim.successRate, defaultSuccessRate)
	}
	if sim.successRate+sim.transientRate > 1 {
		t.Fatalf("rates exceed 1: %v + %v", sim.successRate, sim.transientRate)
	}
}
