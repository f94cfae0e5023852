package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"gorm.io/gorm"
)

type ItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    int64           `json:"quantity" validate:"gte=1"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"money_nonneg"`
	Discount    decimal.Decimal `json:"discount" validate:"money_nonneg"`
}

type CreateInvoiceRequest struct {
	ClinicID  snowflake.ID   `json:"-" validate:"required"`
	AccountID snowflake.ID   `json:"account_id" validate:"required"`
	Items     []ItemInput    `json:"items" validate:"required,min=1,dive"`
	DueDate   *time.Time     `json:"due_date"`
	Status    *InvoiceStatus `json:"status"`
	Notes     string         `json:"notes" validate:"max=2000"`
}

// InvoicePatch lists the fields UpdateInvoice may change. Nil fields are
// left untouched.
type InvoicePatch struct {
	DueDate *time.Time     `json:"due_date"`
	Notes   *string        `json:"notes"`
	Status  *InvoiceStatus `json:"status"`
}

type AdjustInvoiceRequest struct {
	ClinicID  snowflake.ID `json:"-" validate:"required"`
	InvoiceID snowflake.ID `json:"-" validate:"required"`
	// Amount is added to the invoice adjustments; negative values undo a
	// previous discount or write-off.
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

type Service interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, clinicID, id snowflake.ID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, clinicID, id snowflake.ID, patch InvoicePatch) (*Invoice, error)
	AdjustInvoice(ctx context.Context, req AdjustInvoiceRequest) (*Invoice, error)
	MarkOverdue(ctx context.Context, clinicID snowflake.ID, asOf time.Time) (int, error)

	// LockForUpdate loads and locks an invoice inside tx.
	LockForUpdate(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*Invoice, error)
	// ApplyPayment and ReverseAllocation run under the caller's
	// transaction and never commit on their own.
	ApplyPayment(ctx context.Context, tx *gorm.DB, clinicID, invoiceID snowflake.ID, amount decimal.Decimal) (*Invoice, error)
	ReverseAllocation(ctx context.Context, tx *gorm.DB, clinicID, invoiceID snowflake.ID, amount decimal.Decimal) (*Invoice, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*Invoice, error)
	LoadItems(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	UpdateTotals(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertAdjustment(ctx context.Context, db *gorm.DB, adj *InvoiceAdjustment) error
	ListPastDue(ctx context.Context, db *gorm.DB, clinicID snowflake.ID, asOf time.Time) ([]*Invoice, error)
	ListOpenByAccount(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID) ([]*Invoice, error)
}

var (
	ErrInvoiceNotFound     = errs.New(errs.CodeInvoiceNotFound, "invoice not found")
	ErrInvalidInvoiceState = errs.New(errs.CodeInvalidInvoiceState, "invoice state does not allow this operation")
	ErrAmountExceeds       = errs.New(errs.CodeAmountExceedsBalance, "amount exceeds invoice balance")
)
