package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/authorization"
	"github.com/smallbiznis/clinicbill/internal/balance"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	"github.com/smallbiznis/clinicbill/internal/gateway"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/clinicbill/internal/observability/metrics"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/clinicbill/internal/payment/domain"
	"github.com/smallbiznis/clinicbill/internal/refund/domain"
	"github.com/smallbiznis/clinicbill/internal/sequence"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/smallbiznis/clinicbill/pkg/validate"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const autoApprover = "system:auto"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Billing     *config.BillingConfigHolder
	Sequencer   sequence.Sequencer
	Gateway     gateway.Gateway
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	InvoiceSvc  invoicedomain.Service
	Aggregator  balance.Aggregator
	AuditSvc    auditdomain.Service
	Authz       authorization.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billing     *config.BillingConfigHolder
	seq         sequence.Sequencer
	gateway     gateway.Gateway
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	invoiceSvc  invoicedomain.Service
	aggregator  balance.Aggregator
	auditSvc    auditdomain.Service
	authz       authorization.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		seq:         p.Sequencer,
		gateway:     p.Gateway,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		invoiceSvc:  p.InvoiceSvc,
		aggregator:  p.Aggregator,
		auditSvc:    p.AuditSvc,
		authz:       p.Authz,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) RequestRefund(ctx context.Context, req domain.RequestRefundRequest) (*domain.Refund, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Amount != nil && !money.IsPositive(*req.Amount) {
		return nil, validate.Invalid("amount", "must be a positive amount with at most two decimals")
	}

	payment, err := s.paymentRepo.FindByID(ctx, s.db, req.ClinicID, req.PaymentID, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load payment", err)
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if !payment.Status.Refundable() {
		return nil, errs.Newf(errs.CodeInvalidPaymentState,
			"payment %s is %s and cannot be refunded", payment.PaymentNumber, payment.Status)
	}

	amount := payment.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if err := s.checkAvailable(ctx, s.db, payment, 0, amount); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	billing := s.billing.Get()
	number, err := sequence.NextNumber(ctx, s.seq,
		sequence.Scope{ClinicID: req.ClinicID, Name: sequence.ScopeRefund},
		billing.Numbering.Refund, now)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "generate refund number", err)
	}

	refund := &domain.Refund{
		ID:           s.genID.Generate(),
		ClinicID:     payment.ClinicID,
		PaymentID:    payment.ID,
		AccountID:    payment.AccountID,
		RefundNumber: number,
		Amount:       amount,
		RefundType:   domain.RefundTypePartial,
		Status:       domain.RefundStatusPending,
		Reason:       req.Reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if amount.Equal(payment.Amount) {
		refund.RefundType = domain.RefundTypeFull
	}
	refund.IdempotencyKey = idempotencyKey(refund)

	threshold := billing.ApprovalThreshold()
	if threshold.IsPositive() && !amount.LessThan(threshold) {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.lockPayment(ctx, tx, payment.ClinicID, payment.ID)
			if err != nil {
				return err
			}
			if err := s.checkAvailable(ctx, tx, locked, 0, amount); err != nil {
				return err
			}
			if err := s.repo.Insert(ctx, tx, refund); err != nil {
				return errs.Wrap(errs.CodeInternal, "insert refund", err)
			}
			return nil
		})
		if err != nil {
			return nil, errs.From(err)
		}
		s.log.Info("refund awaiting approval",
			zap.String("refund_id", refund.ID.String()),
			zap.String("amount", money.Format(amount)),
			zap.String("threshold", money.Format(threshold)),
		)
		s.finish(ctx, refund, "refund.requested")
		return refund, nil
	}

	refund.Status = domain.RefundStatusApproved
	refund.ApprovedBy = autoApprover
	refund.ApprovedAt = &now
	return s.process(ctx, payment, refund, true)
}

func (s *Service) ApproveRefund(ctx context.Context, req domain.ApproveRefundRequest) (*domain.Refund, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	actor := orgcontext.ActorFromContext(ctx)
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, req.ClinicID, actor, authorization.ObjectRefund, authorization.ActionRefundApprove); err != nil {
			return nil, err
		}
	}

	refund, err := s.GetRefund(ctx, req.ClinicID, req.RefundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != domain.RefundStatusPending {
		return nil, errs.Newf(errs.CodeInvalidRefundState, "refund %s is %s", refund.RefundNumber, refund.Status)
	}
	payment, err := s.paymentRepo.FindByID(ctx, s.db, req.ClinicID, refund.PaymentID, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load payment", err)
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	now := s.clock.Now()
	refund.Status = domain.RefundStatusApproved
	refund.ApprovedBy = actor.ID
	refund.ApprovedAt = &now
	return s.process(ctx, payment, refund, false)
}

func (s *Service) DeclineRefund(ctx context.Context, req domain.DeclineRefundRequest) (*domain.Refund, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	actor := orgcontext.ActorFromContext(ctx)
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, req.ClinicID, actor, authorization.ObjectRefund, authorization.ActionRefundDecline); err != nil {
			return nil, err
		}
	}

	var refund *domain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.lockRefund(ctx, tx, req.ClinicID, req.RefundID)
		if err != nil {
			return err
		}
		if refund.Status != domain.RefundStatusPending {
			return errs.Newf(errs.CodeInvalidRefundState, "refund %s is %s", refund.RefundNumber, refund.Status)
		}
		refund.Status = domain.RefundStatusDeclined
		refund.DeclinedBy = actor.ID
		refund.DeclinedReason = req.Reason
		refund.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, refund); err != nil {
			return errs.Wrap(errs.CodeInternal, "update refund", err)
		}
		return nil
	})
	if err != nil {
		return nil, errs.From(err)
	}

	s.finish(ctx, refund, "refund.declined")
	return refund, nil
}

func (s *Service) CompleteRefund(ctx context.Context, req domain.CompleteRefundRequest) (*domain.Refund, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	current, err := s.GetRefund(ctx, req.ClinicID, req.RefundID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.RefundStatusCompleted {
		return current, nil
	}

	var refund *domain.Refund
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.lockPayment(ctx, tx, req.ClinicID, current.PaymentID)
		if err != nil {
			return err
		}
		refund, err = s.lockRefund(ctx, tx, req.ClinicID, req.RefundID)
		if err != nil {
			return err
		}
		if refund.Status != domain.RefundStatusProcessing {
			return errs.Newf(errs.CodeInvalidRefundState, "refund %s is %s", refund.RefundNumber, refund.Status)
		}
		if req.GatewayReferenceID != "" {
			refund.GatewayReferenceID = req.GatewayReferenceID
		}
		now := s.clock.Now()
		refund.Status = domain.RefundStatusCompleted
		refund.CompletedAt = &now
		refund.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, refund); err != nil {
			return errs.Wrap(errs.CodeInternal, "update refund", err)
		}
		return s.settle(ctx, tx, payment, refund)
	})
	if err != nil {
		return nil, errs.From(err)
	}

	s.finish(ctx, refund, "refund.completed")
	return refund, nil
}

func (s *Service) GetRefund(ctx context.Context, clinicID, id snowflake.ID) (*domain.Refund, error) {
	refund, err := s.repo.FindByID(ctx, s.db, clinicID, id, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load refund", err)
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	reversals, err := s.repo.ListReversals(ctx, s.db, clinicID, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load refund reversals", err)
	}
	for _, r := range reversals {
		refund.Reversals = append(refund.Reversals, *r)
	}
	return refund, nil
}

// process dispatches an approved refund and persists the outcome. A new
// refund is only written once the gateway accepted it; an existing one is
// left untouched when the gateway fails.
func (s *Service) process(ctx context.Context, payment *paymentdomain.Payment, refund *domain.Refund, isNew bool) (*domain.Refund, error) {
	status := domain.RefundStatusCompleted
	if payment.MethodType.UsesGateway() && payment.GatewayReferenceID != "" {
		amountMinor, err := money.ToMinor(refund.Amount)
		if err != nil {
			return nil, validate.Invalid("amount", "%v", err)
		}
		result, err := s.gateway.Refund(ctx, payment.GatewayProvider, gateway.RefundRequest{
			ChargeReferenceID: payment.GatewayReferenceID,
			AmountMinor:       amountMinor,
			Currency:          payment.Currency,
			IdempotencyKey:    refund.IdempotencyKey,
			Reason:            refund.Reason,
		})
		if err == nil && result.Status == gateway.StatusFailed {
			err = gateway.ErrDeclined
		}
		if err != nil {
			s.log.Warn("gateway refund failed",
				zap.String("refund_number", refund.RefundNumber),
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRefund(ctx, "FAILED")
			}
			return nil, errs.Wrap(errs.CodeRefundFailed, "payment gateway rejected the refund", err)
		}
		refund.GatewayReferenceID = result.ReferenceID
		if result.Status != gateway.StatusSucceeded {
			status = domain.RefundStatusProcessing
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockPayment(ctx, tx, payment.ClinicID, payment.ID)
		if err != nil {
			return err
		}
		if !isNew {
			current, err := s.lockRefund(ctx, tx, refund.ClinicID, refund.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.RefundStatusPending {
				return errs.Newf(errs.CodeInvalidRefundState, "refund %s is %s", current.RefundNumber, current.Status)
			}
		}
		if err := s.checkAvailable(ctx, tx, locked, refund.ID, refund.Amount); err != nil {
			return err
		}

		now := s.clock.Now()
		refund.Status = status
		refund.UpdatedAt = now
		if status == domain.RefundStatusCompleted {
			refund.CompletedAt = &now
		}
		if isNew {
			err = s.repo.Insert(ctx, tx, refund)
		} else {
			err = s.repo.Update(ctx, tx, refund)
		}
		if err != nil {
			return errs.Wrap(errs.CodeInternal, "save refund", err)
		}

		if status != domain.RefundStatusCompleted {
			return nil
		}
		return s.settle(ctx, tx, locked, refund)
	})
	if err != nil {
		if refund.GatewayReferenceID != "" {
			// money already moved at the gateway; this needs reconciliation
			s.log.Error("gateway refund accepted but local state not saved",
				zap.String("refund_number", refund.RefundNumber),
				zap.String("payment_id", payment.ID.String()),
				zap.String("amount", money.Format(refund.Amount)),
				zap.String("gateway_reference_id", refund.GatewayReferenceID),
				zap.String("code", errs.CodeOf(err)),
				zap.Error(err),
			)
		}
		return nil, errs.From(err)
	}

	action := "refund.completed"
	if status == domain.RefundStatusProcessing {
		action = "refund.processing"
	}
	s.finish(ctx, refund, action)
	return refund, nil
}

// settle applies a completed refund: the payment moves to (partially)
// refunded, allocations are reversed proportionally and the account
// balance is recomputed. payment must be locked by tx.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, refund *domain.Refund) error {
	refunds, err := s.repo.ListByPayment(ctx, tx, payment.ClinicID, payment.ID)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "load refunds", err)
	}
	refunded := decimal.Zero
	for _, r := range refunds {
		if r.Status == domain.RefundStatusCompleted {
			refunded = refunded.Add(r.Amount)
		}
	}
	if refunded.GreaterThan(payment.Amount) {
		return errs.Newf(errs.CodeInvariantViolation,
			"completed refunds %s exceed payment %s", money.Format(refunded), money.Format(payment.Amount))
	}

	now := s.clock.Now()
	payment.Status = paymentdomain.PaymentStatusPartiallyRefunded
	if refunded.Equal(payment.Amount) {
		payment.Status = paymentdomain.PaymentStatusRefunded
	}
	payment.UpdatedAt = now
	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment); err != nil {
		return errs.Wrap(errs.CodeInternal, "update payment", err)
	}

	allocations, err := s.paymentRepo.ListAllocations(ctx, tx, payment.ClinicID, payment.ID, true)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "load allocations", err)
	}
	shares := proportionalReversals(allocations, refunded, payment.Amount)

	type step struct {
		allocation *paymentdomain.PaymentAllocation
		amount     decimal.Decimal
	}
	steps := make([]step, 0, len(allocations))
	for i, a := range allocations {
		if shares[i].IsPositive() {
			steps = append(steps, step{allocation: a, amount: shares[i]})
		}
	}
	// invoices are locked in id order
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].allocation.InvoiceID < steps[j].allocation.InvoiceID
	})

	reversals := make([]*domain.RefundReversal, 0, len(steps))
	for _, st := range steps {
		a := st.allocation
		if _, err := s.invoiceSvc.ReverseAllocation(ctx, tx, a.ClinicID, a.InvoiceID, st.amount); err != nil {
			return err
		}
		a.ReversedAmount = a.ReversedAmount.Add(st.amount)
		a.UpdatedAt = now
		if err := s.paymentRepo.UpdateAllocationReversed(ctx, tx, a); err != nil {
			return errs.Wrap(errs.CodeInternal, "update allocation", err)
		}
		reversals = append(reversals, &domain.RefundReversal{
			ID:           s.genID.Generate(),
			ClinicID:     refund.ClinicID,
			RefundID:     refund.ID,
			AllocationID: a.ID,
			InvoiceID:    a.InvoiceID,
			Amount:       st.amount,
			CreatedAt:    now,
		})
	}
	if err := s.repo.InsertReversals(ctx, tx, reversals); err != nil {
		return errs.Wrap(errs.CodeInternal, "insert refund reversals", err)
	}
	for _, r := range reversals {
		refund.Reversals = append(refund.Reversals, *r)
	}

	_, err = s.aggregator.Recompute(ctx, tx, payment.ClinicID, payment.AccountID)
	return err
}

// checkAvailable fails when amount does not fit in what is left of the
// payment after the other committed refunds.
func (s *Service) checkAvailable(ctx context.Context, db *gorm.DB, payment *paymentdomain.Payment, exclude snowflake.ID, amount decimal.Decimal) error {
	refunds, err := s.repo.ListByPayment(ctx, db, payment.ClinicID, payment.ID)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "load refunds", err)
	}
	committed := decimal.Zero
	for _, r := range refunds {
		if r.ID == exclude || !r.Status.Committed() {
			continue
		}
		committed = committed.Add(r.Amount)
	}
	available := payment.Amount.Sub(committed)
	if amount.GreaterThan(available) {
		return errs.Newf(errs.CodeRefundExceedsAvailable,
			"refund %s exceeds available %s", money.Format(amount), money.Format(available))
	}
	return nil
}

func (s *Service) lockPayment(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, tx, clinicID, id, true)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lock payment", err)
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) lockRefund(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*domain.Refund, error) {
	refund, err := s.repo.FindByID(ctx, tx, clinicID, id, true)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lock refund", err)
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	return refund, nil
}

func (s *Service) finish(ctx context.Context, refund *domain.Refund, action string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefund(ctx, string(refund.Status))
	}
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: refund.ClinicID,
		Action:   action,
		Entity:   "refund",
		EntityID: refund.ID,
		Details: map[string]any{
			"refund_number":        refund.RefundNumber,
			"payment_id":           refund.PaymentID.String(),
			"amount":               money.Format(refund.Amount),
			"refund_type":          string(refund.RefundType),
			"status":               string(refund.Status),
			"gateway_reference_id": refund.GatewayReferenceID,
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func idempotencyKey(r *domain.Refund) string {
	sum := sha256.Sum256([]byte(r.ClinicID.String() + ":" + r.PaymentID.String() + ":" + r.RefundNumber))
	return "ref_" + hex.EncodeToString(sum[:])[:32]
}
