// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// OpenStatuses are the states that accept allocations and count toward
// the account balance.
var OpenStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusSent,
	InvoiceStatusPartial,
	InvoiceStatusOverdue,
}

// Allocatable reports whether money may be applied to an invoice in status s.
func (s InvoiceStatus) Allocatable() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// Invoice is a patient bill. Balance is always
// max(0, Subtotal - Adjustments - PaidAmount).
type Invoice struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoice_number,priority:1" json:"clinic_id"`
	AccountID     snowflake.ID    `gorm:"not null;index" json:"account_id"`
	InvoiceNumber string          `gorm:"size:64;not null;uniqueIndex:ux_invoice_number,priority:2" json:"invoice_number"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	Adjustments   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"adjustments"`
	PaidAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"paid_amount"`
	Balance       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance"`
	Status        InvoiceStatus   `gorm:"size:16;not null;index" json:"status"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Notes         string          `gorm:"type:text" json:"notes,omitempty"`
	IssuedAt      *time.Time      `json:"issued_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ExpectedBalance derives the balance from the stored totals.
func (i *Invoice) ExpectedBalance() decimal.Decimal {
	b := i.Subtotal.Sub(i.Adjustments).Sub(i.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// Settle re-derives the balance and, for issued invoices, the PAID status.
// A paid invoice whose balance reopens is demoted to PARTIAL.
func (i *Invoice) Settle(at time.Time) {
	i.Balance = i.ExpectedBalance()
	i.UpdatedAt = at
	if i.Status == InvoiceStatusDraft || i.Status == InvoiceStatusCancelled {
		return
	}
	if i.Balance.IsZero() {
		if i.Status != InvoiceStatusPaid {
			i.Status = InvoiceStatusPaid
			i.PaidAt = &at
		}
		return
	}
	if i.Status == InvoiceStatusPaid {
		i.Status = InvoiceStatusPartial
		i.PaidAt = nil
	}
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID    snowflake.ID    `gorm:"not null;index" json:"-"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"-"`
	Position    int             `gorm:"not null" json:"position"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price"`
	Discount    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"discount"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"line_total"`
	CreatedAt   time.Time       `gorm:"not null" json:"-"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// InvoiceAdjustment records one explicit change to an invoice's adjustments.
type InvoiceAdjustment struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID  snowflake.ID    `gorm:"not null;index" json:"-"`
	InvoiceID snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Reason    string          `gorm:"type:text;not null" json:"reason"`
	ActorID   string          `gorm:"size:128" json:"actor_id,omitempty"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (InvoiceAdjustment) TableName() string { return "invoice_adjustments" }
