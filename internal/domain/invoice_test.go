package domain

import (
	"errors"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "ACCEPTED", want: StatusAccepted},
		{name: "valid lowercase with spaces", input: " queued ", want: StatusQueued},
		{name: "contingency", input: "contingency", want: StatusContingency},
		{name: "invalid", input: "pending", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusAccepted, StatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}

	open := []Status{StatusUnsent, StatusQueued, StatusContingency}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestValidateSalePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid sale",
			payload: `{"items":[{"barcode":"7791234567890","quantity":2,"unitPrice":10.5}],"paymentMethod":"cash"}`,
		},
		{
			name:    "extra fields are opaque",
			payload: `{"items":[{"barcode":"1","quantity":1}],"paymentMethod":"card","cashier":"ana","total":99.9}`,
		},
		{
			name:    "no items",
			payload: `{"items":[],"paymentMethod":"cash"}`,
			wantErr: true,
		},
		{
			name:    "missing payment method",
			payload: `{"items":[{"barcode":"1","quantity":1}]}`,
			wantErr: true,
		},
		{
			name:    "zero quantity",
			payload: `{"items":[{"barcode":"1","quantity":0}],"paymentMethod":"cash"}`,
			wantErr: true,
		},
		{
			name:    "missing barcode",
			payload: `{"items":[{"barcode":" ","quantity":1}],"paymentMethod":"cash"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `not-json`,
			wantErr: true,
		},
		{
			name:    "empty",
			payload: ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateSalePayload([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ValidateSalePayload() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateSalePayload() unexpected error = %v", err)
			}
		})
	}
}
