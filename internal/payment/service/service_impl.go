package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/balance"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	"github.com/smallbiznis/clinicbill/internal/gateway"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/clinicbill/internal/observability/metrics"
	"github.com/smallbiznis/clinicbill/internal/payment/domain"
	"github.com/smallbiznis/clinicbill/internal/sequence"
	"github.com/smallbiznis/clinicbill/pkg/db"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/smallbiznis/clinicbill/pkg/validate"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Billing    *config.BillingConfigHolder
	Sequencer  sequence.Sequencer
	Gateway    gateway.Gateway
	Repo       domain.Repository
	AccountSvc accountdomain.Service
	InvoiceSvc invoicedomain.Service
	Aggregator balance.Aggregator
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	seq        sequence.Sequencer
	gateway    gateway.Gateway
	repo       domain.Repository
	accountSvc accountdomain.Service
	invoiceSvc invoicedomain.Service
	aggregator balance.Aggregator
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		seq:        p.Sequencer,
		gateway:    p.Gateway,
		repo:       p.Repo,
		accountSvc: p.AccountSvc,
		invoiceSvc: p.InvoiceSvc,
		aggregator: p.Aggregator,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if req.RequestKey != "" {
		existing, err := s.repo.FindByRequestKey(ctx, s.db, req.ClinicID, req.AccountID, req.RequestKey)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "lookup payment request key", err)
		}
		if existing != nil {
			return s.replay(ctx, existing, req)
		}
	}

	if _, err := s.accountSvc.RequireActive(ctx, s.db, req.ClinicID, req.AccountID); err != nil {
		return nil, err
	}
	if err := s.checkAllocations(ctx, req); err != nil {
		return nil, err
	}

	billing := s.billing.Get()
	now := s.clock.Now()
	number, err := sequence.NextNumber(ctx, s.seq,
		sequence.Scope{ClinicID: req.ClinicID, Name: sequence.ScopePayment},
		billing.Numbering.Payment, now)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "generate payment number", err)
	}

	plan, err := json.Marshal(req.Allocations)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "encode allocations", err)
	}

	payment := &domain.Payment{
		ID:                   s.genID.Generate(),
		ClinicID:             req.ClinicID,
		AccountID:            req.AccountID,
		PaymentNumber:        number,
		Amount:               req.Amount,
		Currency:             billing.Currency,
		Status:               domain.PaymentStatusPending,
		MethodType:           req.MethodType,
		RequestedAllocations: datatypes.JSON(plan),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.RequestKey != "" {
		key := req.RequestKey
		payment.RequestKey = &key
	}

	if !req.MethodType.UsesGateway() {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.Insert(ctx, tx, payment); err != nil {
				return err
			}
			return s.complete(ctx, tx, payment, req.Allocations)
		})
		if err != nil {
			if db.IsDuplicateKeyErr(err) && payment.RequestKey != nil {
				return s.replayByKey(ctx, req)
			}
			return nil, errs.From(err)
		}
		s.finish(ctx, payment, "payment.completed")
		return payment, nil
	}

	payment.GatewayProvider = s.gateway.DefaultProvider()
	payment.IdempotencyKey = idempotencyKey(payment)
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		if db.IsDuplicateKeyErr(err) && payment.RequestKey != nil {
			return s.replayByKey(ctx, req)
		}
		return nil, errs.Wrap(errs.CodeInternal, "insert payment", err)
	}

	return s.charge(ctx, payment, req)
}

// charge dispatches the pre-registered payment to the gateway and settles
// the local state from the result.
func (s *Service) charge(ctx context.Context, payment *domain.Payment, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	amountMinor, err := money.ToMinor(payment.Amount)
	if err != nil {
		return nil, validate.Invalid("amount", "%v", err)
	}

	result, err := s.gateway.Charge(ctx, payment.GatewayProvider, gateway.ChargeRequest{
		AmountMinor:        amountMinor,
		Currency:           payment.Currency,
		IdempotencyKey:     payment.IdempotencyKey,
		PaymentMethodToken: req.PaymentMethodToken,
		Metadata: map[string]string{
			"clinic_id":      payment.ClinicID.String(),
			"account_id":     payment.AccountID.String(),
			"payment_id":     payment.ID.String(),
			"payment_number": payment.PaymentNumber,
		},
	})
	if err == nil && result.Status == gateway.StatusFailed {
		err = gateway.ErrDeclined
	}
	if err != nil {
		s.log.Warn("gateway charge failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("provider", payment.GatewayProvider),
			zap.Error(err),
		)
		s.markFailed(ctx, payment, err.Error())
		return nil, errs.Wrap(errs.CodePaymentFailed, "payment gateway rejected the charge", err)
	}

	payment.GatewayReferenceID = result.ReferenceID
	if result.Status != gateway.StatusSucceeded {
		if result.Status == gateway.StatusProcessing {
			payment.Status = domain.PaymentStatusProcessing
		}
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, s.db, payment); err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "update payment", err)
		}
		s.finish(ctx, payment, "payment.submitted")
		return payment, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, payment.ClinicID, payment.ID)
		if err != nil {
			return err
		}
		if !locked.Status.Awaiting() {
			return errs.Newf(errs.CodeInvalidPaymentState, "payment %s is already %s", locked.PaymentNumber, locked.Status)
		}
		payment.GatewayReferenceID = result.ReferenceID
		return s.complete(ctx, tx, payment, req.Allocations)
	})
	if err != nil {
		// the charge went through; keep the reference so a callback can
		// settle the allocations later
		s.log.Error("charged payment could not be completed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway_reference_id", result.ReferenceID),
			zap.Error(err),
		)
		payment.Status = domain.PaymentStatusProcessing
		payment.UpdatedAt = s.clock.Now()
		if uerr := s.repo.UpdateStatus(ctx, s.db, payment); uerr != nil {
			s.log.Error("update payment after completion failure", zap.Error(uerr))
		}
		return nil, errs.From(err)
	}

	s.finish(ctx, payment, "payment.completed")
	return payment, nil
}

// complete applies the allocations, marks the payment COMPLETED and
// refreshes the account balance, all under tx.
//
// Gateway payments are already captured when they get here, so an invoice
// that was paid or closed since the plan was checked is skipped and an
// allocation larger than the current balance is capped. The remainder stays
// unallocated on the completed payment and can be refunded.
func (s *Service) complete(ctx context.Context, tx *gorm.DB, payment *domain.Payment, plan []domain.AllocationInput) error {
	now := s.clock.Now()
	captured := payment.MethodType.UsesGateway()
	ordered := make([]domain.AllocationInput, len(plan))
	copy(ordered, plan)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].InvoiceID < ordered[j].InvoiceID })

	allocations := make([]*domain.PaymentAllocation, 0, len(ordered))
	for _, in := range ordered {
		invoice, err := s.invoiceSvc.LockForUpdate(ctx, tx, payment.ClinicID, in.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.AccountID != payment.AccountID {
			return domain.ErrAccountMismatch
		}
		amount := in.Amount
		if captured {
			if !invoice.Status.Allocatable() || !invoice.Balance.IsPositive() {
				s.log.Warn("allocation skipped, invoice no longer open",
					zap.String("payment_id", payment.ID.String()),
					zap.String("invoice_id", invoice.ID.String()),
					zap.String("invoice_status", string(invoice.Status)),
					zap.String("amount", money.Format(amount)),
				)
				continue
			}
			if amount.GreaterThan(invoice.Balance) {
				s.log.Warn("allocation capped at invoice balance",
					zap.String("payment_id", payment.ID.String()),
					zap.String("invoice_id", invoice.ID.String()),
					zap.String("requested", money.Format(amount)),
					zap.String("balance", money.Format(invoice.Balance)),
				)
				amount = invoice.Balance
			}
		}
		if _, err := s.invoiceSvc.ApplyPayment(ctx, tx, payment.ClinicID, in.InvoiceID, amount); err != nil {
			return err
		}
		allocations = append(allocations, &domain.PaymentAllocation{
			ID:             s.genID.Generate(),
			ClinicID:       payment.ClinicID,
			PaymentID:      payment.ID,
			InvoiceID:      in.InvoiceID,
			Amount:         amount,
			ReversedAmount: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := s.repo.InsertAllocations(ctx, tx, allocations); err != nil {
		return errs.Wrap(errs.CodeInternal, "insert allocations", err)
	}

	payment.Status = domain.PaymentStatusCompleted
	payment.CompletedAt = &now
	payment.FailureReason = ""
	payment.UpdatedAt = now
	if err := s.repo.UpdateStatus(ctx, tx, payment); err != nil {
		return errs.Wrap(errs.CodeInternal, "update payment", err)
	}

	if _, err := s.aggregator.Recompute(ctx, tx, payment.ClinicID, payment.AccountID); err != nil {
		return err
	}

	payment.Allocations = make([]domain.PaymentAllocation, 0, len(allocations))
	for _, a := range allocations {
		payment.Allocations = append(payment.Allocations, *a)
	}
	return nil
}

func (s *Service) CompletePayment(ctx context.Context, req domain.CompletePaymentRequest) (*domain.Payment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var (
		payment *domain.Payment
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.lock(ctx, tx, req.ClinicID, req.PaymentID)
		if err != nil {
			return err
		}
		if payment.Status == domain.PaymentStatusCompleted {
			return nil
		}
		if !payment.Status.Awaiting() {
			return errs.Newf(errs.CodeInvalidPaymentState, "payment %s is %s", payment.PaymentNumber, payment.Status)
		}

		var plan []domain.AllocationInput
		if len(payment.RequestedAllocations) > 0 {
			if err := json.Unmarshal(payment.RequestedAllocations, &plan); err != nil {
				return errs.Wrap(errs.CodeInternal, "decode allocations", err)
			}
		}
		if req.GatewayReferenceID != "" {
			payment.GatewayReferenceID = req.GatewayReferenceID
		}
		changed = true
		return s.complete(ctx, tx, payment, plan)
	})
	if err != nil {
		return nil, errs.From(err)
	}

	if changed {
		s.finish(ctx, payment, "payment.completed")
		return payment, nil
	}
	return s.GetPayment(ctx, req.ClinicID, req.PaymentID)
}

func (s *Service) FailPayment(ctx context.Context, req domain.FailPaymentRequest) (*domain.Payment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var (
		payment *domain.Payment
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.lock(ctx, tx, req.ClinicID, req.PaymentID)
		if err != nil {
			return err
		}
		if payment.Status == domain.PaymentStatusFailed {
			return nil
		}
		if !payment.Status.Awaiting() {
			return errs.Newf(errs.CodeInvalidPaymentState, "payment %s is %s", payment.PaymentNumber, payment.Status)
		}
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = req.Reason
		payment.UpdatedAt = s.clock.Now()
		changed = true
		if err := s.repo.UpdateStatus(ctx, tx, payment); err != nil {
			return errs.Wrap(errs.CodeInternal, "update payment", err)
		}
		return nil
	})
	if err != nil {
		return nil, errs.From(err)
	}

	if changed {
		s.finish(ctx, payment, "payment.failed")
	}
	return payment, nil
}

func (s *Service) GetPayment(ctx context.Context, clinicID, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, clinicID, id, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load payment", err)
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	allocations, err := s.repo.ListAllocations(ctx, s.db, clinicID, id, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load allocations", err)
	}
	for _, a := range allocations {
		payment.Allocations = append(payment.Allocations, *a)
	}
	return payment, nil
}

func (s *Service) ListAllocations(ctx context.Context, clinicID, paymentID snowflake.ID) ([]*domain.PaymentAllocation, error) {
	if _, err := s.GetPayment(ctx, clinicID, paymentID); err != nil {
		return nil, err
	}
	allocations, err := s.repo.ListAllocations(ctx, s.db, clinicID, paymentID, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load allocations", err)
	}
	return allocations, nil
}

func (s *Service) validateRequest(req domain.CreatePaymentRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if !req.MethodType.Valid() {
		return validate.Invalid("method_type", "unsupported method %q", req.MethodType)
	}

	seen := make(map[snowflake.ID]struct{}, len(req.Allocations))
	total := decimal.Zero
	for _, a := range req.Allocations {
		if _, dup := seen[a.InvoiceID]; dup {
			return validate.Invalid("allocations", "invoice %s listed more than once", a.InvoiceID)
		}
		seen[a.InvoiceID] = struct{}{}
		total = total.Add(a.Amount)
	}
	if total.GreaterThan(req.Amount) {
		return errs.Newf(errs.CodeAllocationExceedsPay,
			"allocations total %s exceeds payment amount %s", money.Format(total), money.Format(req.Amount))
	}
	return nil
}

// checkAllocations validates each target invoice before anything is
// written or charged.
func (s *Service) checkAllocations(ctx context.Context, req domain.CreatePaymentRequest) error {
	for _, a := range req.Allocations {
		invoice, err := s.invoiceSvc.GetInvoice(ctx, req.ClinicID, a.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.AccountID != req.AccountID {
			return errs.Newf(errs.CodeAccountMismatch,
				"invoice %s belongs to a different account", invoice.InvoiceNumber)
		}
		if !invoice.Status.Allocatable() {
			return errs.Newf(errs.CodeInvalidInvoiceState,
				"invoice %s in status %s cannot receive payments", invoice.InvoiceNumber, invoice.Status)
		}
		if a.Amount.GreaterThan(invoice.Balance) {
			return errs.Newf(errs.CodeAmountExceedsBalance,
				"amount %s exceeds invoice %s balance %s", money.Format(a.Amount), invoice.InvoiceNumber, money.Format(invoice.Balance))
		}
	}
	return nil
}

// replay answers a retried request with the payment it already created.
func (s *Service) replay(ctx context.Context, existing *domain.Payment, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if !existing.Amount.Equal(req.Amount) || existing.MethodType != req.MethodType {
		return nil, validate.Invalid("request_key", "already used for a different payment")
	}
	s.log.Info("replaying payment for request key",
		zap.String("payment_id", existing.ID.String()),
		zap.String("status", string(existing.Status)),
	)
	if existing.Status == domain.PaymentStatusFailed {
		return nil, errs.Newf(errs.CodePaymentFailed, "payment %s failed: %s", existing.PaymentNumber, existing.FailureReason)
	}
	return s.GetPayment(ctx, existing.ClinicID, existing.ID)
}

func (s *Service) replayByKey(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	existing, err := s.repo.FindByRequestKey(ctx, s.db, req.ClinicID, req.AccountID, req.RequestKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lookup payment request key", err)
	}
	if existing == nil {
		return nil, errs.New(errs.CodeInternal, "payment request key conflict")
	}
	return s.replay(ctx, existing, req)
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, tx, clinicID, id, true)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lock payment", err)
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) markFailed(ctx context.Context, payment *domain.Payment, reason string) {
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = reason
	payment.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, payment); err != nil {
		s.log.Error("mark payment failed", zap.String("payment_id", payment.ID.String()), zap.Error(err))
	}
	s.finish(ctx, payment, "payment.failed")
}

func (s *Service) finish(ctx context.Context, payment *domain.Payment, action string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayment(ctx, string(payment.MethodType), string(payment.Status))
	}
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: payment.ClinicID,
		Action:   action,
		Entity:   "payment",
		EntityID: payment.ID,
		Details: map[string]any{
			"payment_number":       payment.PaymentNumber,
			"amount":               money.Format(payment.Amount),
			"method_type":          string(payment.MethodType),
			"status":               string(payment.Status),
			"gateway_reference_id": payment.GatewayReferenceID,
			"idempotency_key":      payment.IdempotencyKey,
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// idempotencyKey is stable for a payment so a retried charge is
// deduplicated by the processor.
func idempotencyKey(p *domain.Payment) string {
	sum := sha256.Sum256([]byte(p.ClinicID.String() + ":" + p.AccountID.String() + ":" + p.PaymentNumber))
	return "pay_" + hex.EncodeToString(sum[:])[:32]
}
