package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"gorm.io/gorm"
)

type CreateCreditRequest struct {
	ClinicID  snowflake.ID    `json:"-" validate:"required"`
	AccountID snowflake.ID    `json:"account_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"money_positive"`
	Source    CreditSource    `json:"source" validate:"required"`
	ExpiresAt *time.Time      `json:"expires_at"`
	Note      string          `json:"note" validate:"max=500"`
}

type ApplyCreditRequest struct {
	ClinicID  snowflake.ID    `json:"-" validate:"required"`
	CreditID  snowflake.ID    `json:"-" validate:"required"`
	InvoiceID snowflake.ID    `json:"invoice_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"money_positive"`
}

type TransferCreditRequest struct {
	ClinicID    snowflake.ID    `json:"-" validate:"required"`
	CreditID    snowflake.ID    `json:"-" validate:"required"`
	ToAccountID snowflake.ID    `json:"to_account_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"money_positive"`
}

type ApplyCreditResult struct {
	Credit      *CreditBalance         `json:"credit"`
	Invoice     *invoicedomain.Invoice `json:"invoice"`
	Application *CreditApplication     `json:"application"`
}

type TransferCreditResult struct {
	Source      *CreditBalance `json:"source"`
	Destination *CreditBalance `json:"destination"`
}

type Service interface {
	CreateCredit(ctx context.Context, req CreateCreditRequest) (*CreditBalance, error)
	GetCredit(ctx context.Context, clinicID, id snowflake.ID) (*CreditBalance, error)
	ApplyCredit(ctx context.Context, req ApplyCreditRequest) (*ApplyCreditResult, error)
	TransferCredit(ctx context.Context, req TransferCreditRequest) (*TransferCreditResult, error)
	ListAvailableCredits(ctx context.Context, clinicID, accountID snowflake.ID, asOf time.Time) ([]*CreditBalance, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, credit *CreditBalance) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*CreditBalance, error)
	UpdateRemaining(ctx context.Context, db *gorm.DB, credit *CreditBalance) error
	InsertApplication(ctx context.Context, db *gorm.DB, app *CreditApplication) error
	ListAvailable(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID) ([]*CreditBalance, error)
}

var (
	ErrCreditNotFound     = errs.New(errs.CodeCreditNotFound, "credit not found")
	ErrCreditExpired      = errs.New(errs.CodeCreditExpired, "credit has expired")
	ErrInsufficientCredit = errs.New(errs.CodeInsufficientCredit, "insufficient credit")
	ErrAccountMismatch    = errs.New(errs.CodeAccountMismatch, "invoice belongs to a different account")
)
