package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Evg-Mazay/rsoi-curse/pkg/serviceauth"
)

// ServiceCaller sends authorized requests to other backend services
type ServiceCaller interface {
	Do(ctx context.Context, method, url string, body interface{}) (*serviceauth.Response, error)
}

var (
	// ErrPaymentDeclined is returned when the processor refuses the card
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentNotFound is returned when reversing a payment the processor does not know
	ErrPaymentNotFound = errors.New("payment not found")
)

// DeclinedCardSentinel is the card value the payment processor always declines
const DeclinedCardSentinel = "test_reject"

// chargeRequest keeps the processor's field spelling
type chargeRequest struct {
	CardNumber string `json:"cc_number"`
	Amount     int64  `json:"ammount"`
}

type chargeResponse struct {
	PaymentID int64 `json:"payment_id"`
}

// PaymentClient talks to the payment processor. Any error other than
// ErrPaymentDeclined / ErrPaymentNotFound means the processor could not be reached
// or answered unexpectedly.
type PaymentClient struct {
	caller  ServiceCaller
	baseURL string
}

// NewPaymentClient creates a new PaymentClient
func NewPaymentClient(caller ServiceCaller, baseURL string) *PaymentClient {
	return &PaymentClient{caller: caller, baseURL: strings.TrimRight(baseURL, "/")}
}

// Charge takes amount from card and returns the processor's payment id
func (c *PaymentClient) Charge(ctx context.Context, card string, amount int64) (int64, error) {
	resp, err := c.caller.Do(ctx, http.MethodPost, c.baseURL+"/payment/pay", chargeRequest{
		CardNumber: card,
		Amount:     amount,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to call payment processor: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return 0, ErrPaymentDeclined
	case !resp.IsSuccess():
		return 0, fmt.Errorf("payment processor returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var result chargeResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return 0, fmt.Errorf("failed to parse payment response: %w", err)
	}
	if result.PaymentID == 0 {
		return 0, fmt.Errorf("payment processor returned no payment id")
	}
	return result.PaymentID, nil
}

// Reverse refunds a previous charge
func (c *PaymentClient) Reverse(ctx context.Context, paymentID int64) error {
	resp, err := c.caller.Do(ctx, http.MethodPost, fmt.Sprintf("%s/payment/%d/reverse", c.baseURL, paymentID), nil)
	if err != nil {
		return fmt.Errorf("failed to call payment processor: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPaymentNotFound
	case !resp.IsSuccess():
		return fmt.Errorf("payment processor returned status %d: %s", resp.StatusCode, string(resp.Body))
	}
	return nil
}
