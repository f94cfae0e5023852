// Package domain contains the payment and allocation models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Awaiting reports whether the payment is still waiting on the gateway.
func (s PaymentStatus) Awaiting() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// Refundable reports whether refunds may be requested against the payment.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusPartiallyRefunded
}

type MethodType string

const (
	MethodCard         MethodType = "CARD"
	MethodCash         MethodType = "CASH"
	MethodCheck        MethodType = "CHECK"
	MethodBankTransfer MethodType = "BANK_TRANSFER"
)

func (m MethodType) Valid() bool {
	switch m {
	case MethodCard, MethodCash, MethodCheck, MethodBankTransfer:
		return true
	}
	return false
}

// UsesGateway reports whether the method is charged through the payment
// gateway. Other methods are recorded as already settled.
func (m MethodType) UsesGateway() bool {
	return m == MethodCard
}

type Payment struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID           snowflake.ID    `gorm:"not null;uniqueIndex:ux_payment_number,priority:1;uniqueIndex:ux_payment_request_key,priority:1" json:"clinic_id"`
	AccountID          snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_payment_request_key,priority:2" json:"account_id"`
	PaymentNumber      string          `gorm:"size:64;not null;uniqueIndex:ux_payment_number,priority:2" json:"payment_number"`
	Amount             decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Currency           string          `gorm:"size:3;not null" json:"currency"`
	Status             PaymentStatus   `gorm:"size:24;not null;index" json:"status"`
	MethodType         MethodType      `gorm:"size:24;not null" json:"method_type"`
	GatewayProvider    string          `gorm:"size:32" json:"gateway_provider,omitempty"`
	GatewayReferenceID string          `gorm:"size:128" json:"gateway_reference_id,omitempty"`
	IdempotencyKey     string          `gorm:"size:64" json:"-"`
	RequestKey         *string         `gorm:"size:128;uniqueIndex:ux_payment_request_key,priority:3" json:"request_key,omitempty"`
	// RequestedAllocations holds the allocation plan until the payment
	// completes.
	RequestedAllocations datatypes.JSON `json:"-"`
	FailureReason        string         `gorm:"type:text" json:"failure_reason,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	CreatedAt            time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`

	Allocations []PaymentAllocation `gorm:"-" json:"allocations,omitempty"`
}

func (Payment) TableName() string { return "payments" }

// PaymentAllocation applies part of a payment to one invoice.
// ReversedAmount grows as refunds unwind the allocation.
type PaymentAllocation struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID       snowflake.ID    `gorm:"not null;index" json:"-"`
	PaymentID      snowflake.ID    `gorm:"not null;index" json:"payment_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	ReversedAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"reversed_amount"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (PaymentAllocation) TableName() string { return "payment_allocations" }

// Net is the part of the allocation still applied to the invoice.
func (a *PaymentAllocation) Net() decimal.Decimal {
	return a.Amount.Sub(a.ReversedAmount)
}
