package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"gorm.io/gorm"
)

type RequestRefundRequest struct {
	ClinicID  snowflake.ID `json:"-" validate:"required"`
	PaymentID snowflake.ID `json:"payment_id" validate:"required"`
	// Amount defaults to the full payment amount.
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" validate:"required,max=500"`
}

type ApproveRefundRequest struct {
	ClinicID snowflake.ID `json:"-" validate:"required"`
	RefundID snowflake.ID `json:"-" validate:"required"`
}

type DeclineRefundRequest struct {
	ClinicID snowflake.ID `json:"-" validate:"required"`
	RefundID snowflake.ID `json:"-" validate:"required"`
	Reason   string       `json:"reason" validate:"required,max=500"`
}

type CompleteRefundRequest struct {
	ClinicID           snowflake.ID `json:"-" validate:"required"`
	RefundID           snowflake.ID `json:"-" validate:"required"`
	GatewayReferenceID string       `json:"gateway_reference_id" validate:"max=128"`
}

type Service interface {
	RequestRefund(ctx context.Context, req RequestRefundRequest) (*Refund, error)
	ApproveRefund(ctx context.Context, req ApproveRefundRequest) (*Refund, error)
	DeclineRefund(ctx context.Context, req DeclineRefundRequest) (*Refund, error)
	// CompleteRefund settles a refund the gateway reported as processing.
	CompleteRefund(ctx context.Context, req CompleteRefundRequest) (*Refund, error)
	GetRefund(ctx context.Context, clinicID, id snowflake.ID) (*Refund, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*Refund, error)
	Update(ctx context.Context, db *gorm.DB, refund *Refund) error
	ListByPayment(ctx context.Context, db *gorm.DB, clinicID, paymentID snowflake.ID) ([]*Refund, error)
	InsertReversals(ctx context.Context, db *gorm.DB, reversals []*RefundReversal) error
	ListReversals(ctx context.Context, db *gorm.DB, clinicID, refundID snowflake.ID) ([]*RefundReversal, error)
}

var (
	ErrRefundNotFound     = errs.New(errs.CodeRefundNotFound, "refund not found")
	ErrInvalidRefundState = errs.New(errs.CodeInvalidRefundState, "refund state does not allow this operation")
)
