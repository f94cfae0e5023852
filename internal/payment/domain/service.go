package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"gorm.io/gorm"
)

type AllocationInput struct {
	InvoiceID snowflake.ID    `json:"invoice_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"money_positive"`
}

type CreatePaymentRequest struct {
	ClinicID    snowflake.ID      `json:"-" validate:"required"`
	AccountID   snowflake.ID      `json:"account_id" validate:"required"`
	Amount      decimal.Decimal   `json:"amount" validate:"money_positive"`
	MethodType  MethodType        `json:"method_type" validate:"required"`
	Allocations []AllocationInput `json:"allocations" validate:"dive"`
	// PaymentMethodToken is the gateway token of the card being charged.
	PaymentMethodToken string `json:"payment_method_token" validate:"max=256"`
	// RequestKey lets a client retry the same request without paying twice.
	RequestKey string `json:"request_key" validate:"max=128"`
}

type CompletePaymentRequest struct {
	ClinicID           snowflake.ID `json:"-" validate:"required"`
	PaymentID          snowflake.ID `json:"-" validate:"required"`
	GatewayReferenceID string       `json:"gateway_reference_id" validate:"max=128"`
}

type FailPaymentRequest struct {
	ClinicID  snowflake.ID `json:"-" validate:"required"`
	PaymentID snowflake.ID `json:"-" validate:"required"`
	Reason    string       `json:"reason" validate:"required,max=500"`
}

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	// CompletePayment and FailPayment settle a payment the gateway left
	// pending, as reported by an out-of-band callback.
	CompletePayment(ctx context.Context, req CompletePaymentRequest) (*Payment, error)
	FailPayment(ctx context.Context, req FailPaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, clinicID, id snowflake.ID) (*Payment, error)
	ListAllocations(ctx context.Context, clinicID, paymentID snowflake.ID) ([]*PaymentAllocation, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*Payment, error)
	FindByRequestKey(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID, key string) (*Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertAllocations(ctx context.Context, db *gorm.DB, allocations []*PaymentAllocation) error
	ListAllocations(ctx context.Context, db *gorm.DB, clinicID, paymentID snowflake.ID, forUpdate bool) ([]*PaymentAllocation, error)
	UpdateAllocationReversed(ctx context.Context, db *gorm.DB, allocation *PaymentAllocation) error
}

var (
	ErrPaymentNotFound     = errs.New(errs.CodePaymentNotFound, "payment not found")
	ErrInvalidPaymentState = errs.New(errs.CodeInvalidPaymentState, "payment state does not allow this operation")
	ErrAccountMismatch     = errs.New(errs.CodeAccountMismatch, "invoice belongs to a different account")
)
