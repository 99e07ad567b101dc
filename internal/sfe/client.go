// Package sfe talks to the remote electronic-invoicing service (Sistema de
// Facturación Electrónica). The pipeline only needs one operation: submit an
// invoice payload and learn whether it was accepted, permanently rejected,
// or transiently failed.
package sfe

import (
	"context"

	"github.com/tiendapos/invoicing/internal/domain"
)

// Client is the outbound invoicing port.
type Client interface {
	Submit(ctx context.Context, invoice domain.Invoice) (*Response, error)
}

// Response stores remote call metadata for audit and persistence.
type Response struct {
	StatusCode int
	Body       string
	// RemoteReference is the identifier the service assigned to the
	// accepted invoice.
	RemoteReference string
}
