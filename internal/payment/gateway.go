// Package payment talks to the mobile-money provider.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const ProviderMobileMoney = "mobile-money"

var ErrUnauthorized = errors.New("payment gateway rejected credentials")

type PaymentRequest struct {
	Amount      decimal.Decimal
	Phone       string
	CallbackURL string
	Reference   string // our order id, echoed back as external_reference
	Description string
}

type PaymentResult struct {
	Reference string // provider transaction id
	Status    string
}

type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment %s: http %d: %s", e.Op, e.Code, strings.TrimSpace(e.Body))
}

// Outcome normalizes the provider's callback status.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomePaid
	OutcomeFailed
)

func ParseOutcome(status string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESSFUL", "SUCCESS", "PAID":
		return OutcomePaid
	case "FAILED", "FAILURE", "CANCELLED", "REJECTED":
		return OutcomeFailed
	default:
		return OutcomeUnknown
	}
}
