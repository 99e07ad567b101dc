package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tiendapos/invoicing/internal/domain"
)

// InvoiceService is the producer facade the HTTP surface exposes.
type InvoiceService interface {
	IssueInvoice(ctx context.Context, payload []byte) (*domain.Invoice, error)
	GetByID(ctx context.Context, id int64) (*domain.Invoice, error)
	GetStatus(ctx context.Context, id int64) (domain.Status, error)
}

type InvoiceHandler struct {
	service InvoiceService
}

func NewInvoiceHandler(service InvoiceService) (*InvoiceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("invoice service is required")
	}
	return &InvoiceHandler{service: service}, nil
}

func RegisterInvoiceRoutes(router fiber.Router, service InvoiceService) error {
	h, err := NewInvoiceHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/invoices", h.IssueInvoice)
	v1.Get("/invoices/:id", h.GetInvoice)
	v1.Get("/invoices/:id/status", h.GetInvoiceStatus)

	return nil
}

type issueInvoiceResponse struct {
	InvoiceID int64  `json:"invoiceId"`
	Status    string `json:"status"`
}

type invoiceResponse struct {
	ID              int64           `json:"id"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	RemoteReference *string         `json:"remoteReference,omitempty"`
	AttemptCount    int             `json:"attemptCount"`
	LastError       *string         `json:"lastError,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type invoiceStatusResponse struct {
	InvoiceID int64  `json:"invoiceId"`
	Status    string `json:"status"`
}

// IssueInvoice accepts a raw sale payload and answers before any delivery
// happens. The response is the same whether the invoice reached the queue
// or is waiting for the recovery scanner.
func (h *InvoiceHandler) IssueInvoice(c *fiber.Ctx) error {
	invoice, err := h.service.IssueInvoice(c.Context(), c.Body())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(issueInvoiceResponse{
		InvoiceID: invoice.ID,
		Status:    "processing",
	})
}

func (h *InvoiceHandler) GetInvoice(c *fiber.Ctx) error {
	id, err := parseInvoiceID(c)
	if err != nil {
		return toHTTPError(err)
	}

	invoice, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toInvoiceResponse(invoice))
}

func (h *InvoiceHandler) GetInvoiceStatus(c *fiber.Ctx) error {
	id, err := parseInvoiceID(c)
	if err != nil {
		return toHTTPError(err)
	}

	status, err := h.service.GetStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(invoiceStatusResponse{
		InvoiceID: id,
		Status:    string(status),
	})
}

func parseInvoiceID(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Params("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invoice id must be a positive integer", domain.ErrValidation)
	}
	return id, nil
}

func toInvoiceResponse(invoice *domain.Invoice) invoiceResponse {
	if invoice == nil {
		return invoiceResponse{}
	}

	payload := json.RawMessage(invoice.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(invoice.Payload)
	}

	return invoiceResponse{
		ID:              invoice.ID,
		Payload:         payload,
		Status:          string(invoice.Status),
		RemoteReference: invoice.RemoteReference,
		AttemptCount:    invoice.AttemptCount,
		LastError:       invoice.LastError,
		CreatedAt:       invoice.CreatedAt,
		UpdatedAt:       invoice.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
