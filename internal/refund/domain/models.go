// Package domain contains refund models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusDeclined   RefundStatus = "DECLINED"
)

// Committed reports whether the refund holds part of the payment amount.
func (s RefundStatus) Committed() bool {
	return s != RefundStatusDeclined
}

type RefundType string

const (
	RefundTypeFull    RefundType = "FULL"
	RefundTypePartial RefundType = "PARTIAL"
)

type Refund struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID           snowflake.ID    `gorm:"not null;uniqueIndex:ux_refund_number,priority:1" json:"clinic_id"`
	PaymentID          snowflake.ID    `gorm:"not null;index" json:"payment_id"`
	AccountID          snowflake.ID    `gorm:"not null;index" json:"account_id"`
	RefundNumber       string          `gorm:"size:64;not null;uniqueIndex:ux_refund_number,priority:2" json:"refund_number"`
	Amount             decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	RefundType         RefundType      `gorm:"size:16;not null" json:"refund_type"`
	Status             RefundStatus    `gorm:"size:16;not null;index" json:"status"`
	Reason             string          `gorm:"type:text;not null" json:"reason"`
	GatewayReferenceID string          `gorm:"size:128" json:"gateway_reference_id,omitempty"`
	IdempotencyKey     string          `gorm:"size:64" json:"-"`
	ApprovedBy         string          `gorm:"size:128" json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	DeclinedBy         string          `gorm:"size:128" json:"declined_by,omitempty"`
	DeclinedReason     string          `gorm:"type:text" json:"declined_reason,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`

	Reversals []RefundReversal `gorm:"-" json:"reversals,omitempty"`
}

func (Refund) TableName() string { return "refunds" }

// RefundReversal is the share of a refund taken back from one allocation.
type RefundReversal struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID     snowflake.ID    `gorm:"not null;index" json:"-"`
	RefundID     snowflake.ID    `gorm:"not null;index" json:"refund_id"`
	AllocationID snowflake.ID    `gorm:"not null" json:"allocation_id"`
	InvoiceID    snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (RefundReversal) TableName() string { return "refund_reversals" }
