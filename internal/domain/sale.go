package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SaleItem is one line of a sale as the terminal submits it.
type SaleItem struct {
	Barcode   string  `json:"barcode"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice,omitempty"`
}

// SalePayload is the minimal structure the facade requires of a submitted
// sale. The raw payload is stored verbatim; only these fields are checked.
type SalePayload struct {
	Items         []SaleItem `json:"items"`
	PaymentMethod string     `json:"paymentMethod"`
}

// ValidateSalePayload checks the structural requirements of a raw sale
// payload: it must be a JSON object with at least one line item and a
// payment method. Everything else is opaque to the pipeline.
func ValidateSalePayload(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: sale payload is required", ErrValidation)
	}

	var sale SalePayload
	if err := json.Unmarshal(raw, &sale); err != nil {
		return fmt.Errorf("%w: sale payload is not valid JSON: %v", ErrValidation, err)
	}

	if len(sale.Items) == 0 {
		return fmt.Errorf("%w: sale must include at least one line item", ErrValidation)
	}
	for i, item := range sale.Items {
		if strings.TrimSpace(item.Barcode) == "" {
			return fmt.Errorf("%w: item %d is missing a barcode", ErrValidation, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be >= 1", ErrValidation, i)
		}
	}
	if strings.TrimSpace(sale.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment method is required", ErrValidation)
	}

	return nil
}
