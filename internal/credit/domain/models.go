// Package domain contains the credit pool models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreditStatus string

const (
	CreditStatusAvailable CreditStatus = "AVAILABLE"
	CreditStatusApplied   CreditStatus = "APPLIED"
)

type CreditSource string

const (
	CreditSourceOverpayment CreditSource = "OVERPAYMENT"
	CreditSourceTransfer    CreditSource = "TRANSFER"
	CreditSourceManual      CreditSource = "MANUAL"
	CreditSourceRefund      CreditSource = "REFUND"
)

func (s CreditSource) Valid() bool {
	switch s {
	case CreditSourceOverpayment, CreditSourceTransfer, CreditSourceManual, CreditSourceRefund:
		return true
	}
	return false
}

// CreditBalance is a reusable amount held for an account. RemainingAmount
// stays within [0, Amount] and the credit is APPLIED exactly when nothing
// remains.
type CreditBalance struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID        snowflake.ID    `gorm:"not null;index:ix_credit_account,priority:1" json:"clinic_id"`
	AccountID       snowflake.ID    `gorm:"not null;index:ix_credit_account,priority:2" json:"account_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"remaining_amount"`
	Status          CreditStatus    `gorm:"size:16;not null" json:"status"`
	Source          CreditSource    `gorm:"size:16;not null" json:"source"`
	SourceCreditID  *snowflake.ID   `json:"source_credit_id,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Note            string          `gorm:"type:text" json:"note,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// Expired reports whether the credit can no longer be used at t.
func (c *CreditBalance) Expired(t time.Time) bool {
	return c.ExpiresAt != nil && !t.Before(*c.ExpiresAt)
}

// Usable reports whether the credit counts toward the account balance at t.
func (c *CreditBalance) Usable(t time.Time) bool {
	return c.Status == CreditStatusAvailable && c.RemainingAmount.IsPositive() && !c.Expired(t)
}

// Consume takes amount out of the remaining balance and flips the status
// once it reaches zero.
func (c *CreditBalance) Consume(amount decimal.Decimal, at time.Time) {
	c.RemainingAmount = c.RemainingAmount.Sub(amount)
	if c.RemainingAmount.Sign() <= 0 {
		c.RemainingAmount = decimal.Zero
		c.Status = CreditStatusApplied
	}
	c.UpdatedAt = at
}

// CreditApplication records credit applied to an invoice.
type CreditApplication struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID  snowflake.ID    `gorm:"not null;index" json:"clinic_id"`
	CreditID  snowflake.ID    `gorm:"not null;index" json:"credit_id"`
	InvoiceID snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (CreditApplication) TableName() string { return "credit_applications" }
