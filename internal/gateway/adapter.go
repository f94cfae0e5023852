// Package gateway defines the contract between the billing core and
// external payment processors.
package gateway

import (
	"context"
	"errors"
)

// Status is the normalized outcome reported by a processor.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusProcessing     Status = "processing"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	// PaymentMethodToken is the processor-side token for the card.
	PaymentMethodToken string
	Metadata           map[string]string
}

type RefundRequest struct {
	ChargeReferenceID string
	AmountMinor       int64
	Currency          string
	IdempotencyKey    string
	Reason            string
}

type Result struct {
	ReferenceID string
	Status      Status
}

// Adapter is implemented once per processor. Implementations must honor
// ctx cancellation and pass IdempotencyKey through to the processor.
type Adapter interface {
	Provider() string
	CreateCharge(ctx context.Context, req ChargeRequest) (Result, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Result, error)
}

// Credentials configure one adapter instance.
type Credentials struct {
	SecretKey  string
	AccountID  string
	Production bool
}

type Factory interface {
	Provider() string
	NewAdapter(creds Credentials) (Adapter, error)
}

var (
	ErrProviderNotFound = errors.New("gateway_provider_not_found")
	ErrInvalidConfig    = errors.New("gateway_invalid_config")
	ErrInvalidRequest   = errors.New("gateway_invalid_request")
	ErrDeclined         = errors.New("gateway_declined")
)
