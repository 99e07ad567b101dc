package sfe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tiendapos/invoicing/internal/domain"
)

const defaultSubmitTimeout = 10 * time.Second

// RestClient submits invoices to an HTTP electronic-invoicing endpoint.
// The stored sale payload travels verbatim; the invoice id doubles as the
// idempotency key so a duplicated delivery cannot issue two documents.
type RestClient struct {
	client   *resty.Client
	endpoint string
}

func NewRestClient(endpoint string, timeout time.Duration) (*RestClient, error) {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewRestClientWithClient(endpoint, client)
}

func NewRestClientWithClient(endpoint string, client *resty.Client) (*RestClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("sfe endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sfe endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSubmitTimeout)
	}
	client.SetRetryCount(0)

	return &RestClient{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

type submitResult struct {
	Reference string `json:"reference"`
}

func (c *RestClient) Submit(ctx context.Context, invoice domain.Invoice) (*Response, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("sfe client is not initialized")
	}
	if invoice.ID <= 0 {
		return nil, fmt.Errorf("invoice id is required")
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", strconv.FormatInt(invoice.ID, 10)).
		SetBody(json.RawMessage(invoice.Payload)).
		Post(c.endpoint)
	if err != nil {
		return nil, &Error{
			Message:   "sfe request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &Error{
			Message:   "sfe returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode:      statusCode,
			Body:            responseBody,
			RemoteReference: remoteReference(response, responseBody),
		}, nil
	}

	return nil, &Error{
		StatusCode: statusCode,
		Message:    submitErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func submitErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("sfe returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func remoteReference(response *resty.Response, body string) string {
	var result submitResult
	if err := json.Unmarshal([]byte(body), &result); err == nil {
		if ref := strings.TrimSpace(result.Reference); ref != "" {
			return ref
		}
	}

	return strings.TrimSpace(response.Header().Get("X-Invoice-Reference"))
}
