package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/balance"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	"github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/smallbiznis/clinicbill/internal/sequence"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/smallbiznis/clinicbill/pkg/validate"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
	Repo       domain.Repository
	AccountSvc accountdomain.Service
	Aggregator balance.Aggregator
	AuditSvc   auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	seq        sequence.Sequencer
	repo       domain.Repository
	accountSvc accountdomain.Service
	aggregator balance.Aggregator
	auditSvc   auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		seq:        p.Sequencer,
		repo:       p.Repo,
		accountSvc: p.AccountSvc,
		aggregator: p.Aggregator,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	status := domain.InvoiceStatusPending
	if req.Status != nil {
		status = *req.Status
	}
	if status != domain.InvoiceStatusDraft && status != domain.InvoiceStatusPending {
		return nil, validate.Invalid("status", "must be DRAFT or PENDING, got %s", status)
	}

	now := s.clock.Now()
	invoiceID := s.genID.Generate()
	items := make([]domain.InvoiceItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for i, in := range req.Items {
		lineTotal := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity)).Sub(in.Discount)
		if lineTotal.IsNegative() {
			return nil, validate.Invalid("items", "line %d discount %s exceeds line amount", i+1, money.Format(in.Discount))
		}
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.InvoiceItem{
			ID:          s.genID.Generate(),
			ClinicID:    req.ClinicID,
			InvoiceID:   invoiceID,
			Position:    i + 1,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Discount:    in.Discount,
			LineTotal:   lineTotal,
			CreatedAt:   now,
		})
	}

	if _, err := s.accountSvc.RequireActive(ctx, s.db, req.ClinicID, req.AccountID); err != nil {
		return nil, err
	}

	number, err := sequence.NextNumber(ctx, s.seq,
		sequence.Scope{ClinicID: req.ClinicID, Name: sequence.ScopeInvoice},
		s.billing.Get().Numbering.Invoice, now)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "generate invoice number", err)
	}

	invoice := &domain.Invoice{
		ID:            invoiceID,
		ClinicID:      req.ClinicID,
		AccountID:     req.AccountID,
		InvoiceNumber: number,
		Subtotal:      subtotal,
		Adjustments:   decimal.Zero,
		PaidAmount:    decimal.Zero,
		Status:        status,
		DueDate:       req.DueDate,
		Notes:         req.Notes,
		CreatedAt:     now,
		Items:         items,
	}
	if status != domain.InvoiceStatusDraft {
		invoice.IssuedAt = &now
	}
	invoice.Settle(now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			return errs.Wrap(errs.CodeInternal, "insert invoice", err)
		}
		_, err := s.aggregator.Recompute(ctx, tx, invoice.ClinicID, invoice.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("subtotal", money.Format(invoice.Subtotal)),
	)
	s.audit(ctx, "invoice.created", invoice, map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"subtotal":       money.Format(invoice.Subtotal),
		"status":         string(invoice.Status),
	})
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, clinicID, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, clinicID, id, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load invoice", err)
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if err := s.repo.LoadItems(ctx, s.db, invoice); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load invoice items", err)
	}
	return invoice, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, clinicID, id snowflake.ID, patch domain.InvoicePatch) (*domain.Invoice, error) {
	var (
		invoice *domain.Invoice
		from    domain.InvoiceStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.LockForUpdate(ctx, tx, clinicID, id)
		if err != nil {
			return err
		}
		if invoice.Status == domain.InvoiceStatusCancelled {
			return errs.Newf(errs.CodeInvalidInvoiceState, "invoice %s is cancelled", invoice.InvoiceNumber)
		}

		now := s.clock.Now()
		from = invoice.Status
		if patch.DueDate != nil {
			invoice.DueDate = patch.DueDate
		}
		if patch.Notes != nil {
			invoice.Notes = *patch.Notes
		}
		if patch.Status != nil && *patch.Status != invoice.Status {
			if err := transition(invoice, *patch.Status, now); err != nil {
				return err
			}
		}
		invoice.Settle(now)

		if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
			return errs.Wrap(errs.CodeInternal, "update invoice", err)
		}
		_, err = s.aggregator.Recompute(ctx, tx, invoice.ClinicID, invoice.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "invoice.updated", invoice, map[string]any{
		"from_status": string(from),
		"status":      string(invoice.Status),
	})
	return invoice, nil
}

// transition applies the manual status moves UpdateInvoice allows.
func transition(invoice *domain.Invoice, to domain.InvoiceStatus, now time.Time) error {
	from := invoice.Status
	allowed := false
	switch to {
	case domain.InvoiceStatusPending:
		allowed = from == domain.InvoiceStatusDraft
	case domain.InvoiceStatusSent:
		allowed = from == domain.InvoiceStatusDraft || from == domain.InvoiceStatusPending
	case domain.InvoiceStatusOverdue:
		allowed = from == domain.InvoiceStatusPending || from == domain.InvoiceStatusSent || from == domain.InvoiceStatusPartial
	case domain.InvoiceStatusCancelled:
		allowed = from != domain.InvoiceStatusPaid && invoice.PaidAmount.IsZero()
	}
	if !allowed {
		return errs.Newf(errs.CodeInvalidInvoiceState, "cannot move invoice %s from %s to %s", invoice.InvoiceNumber, from, to)
	}

	invoice.Status = to
	switch to {
	case domain.InvoiceStatusPending, domain.InvoiceStatusSent:
		if invoice.IssuedAt == nil {
			invoice.IssuedAt = &now
		}
	case domain.InvoiceStatusCancelled:
		invoice.CancelledAt = &now
	}
	return nil
}

func (s *Service) AdjustInvoice(ctx context.Context, req domain.AdjustInvoiceRequest) (*domain.Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsZero() || !money.HasScale(req.Amount) {
		return nil, validate.Invalid("amount", "must be a non-zero amount with at most two decimals")
	}

	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.LockForUpdate(ctx, tx, req.ClinicID, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == domain.InvoiceStatusCancelled || invoice.Status == domain.InvoiceStatusPaid {
			return errs.Newf(errs.CodeInvalidInvoiceState, "invoice %s is %s", invoice.InvoiceNumber, invoice.Status)
		}

		adjusted := invoice.Adjustments.Add(req.Amount)
		if adjusted.IsNegative() {
			return validate.Invalid("amount", "adjustments cannot drop below zero (current %s)", money.Format(invoice.Adjustments))
		}
		if ceiling := invoice.Subtotal.Sub(invoice.PaidAmount); adjusted.GreaterThan(ceiling) {
			return errs.Newf(errs.CodeAmountExceedsBalance,
				"adjustment %s exceeds invoice balance %s", money.Format(req.Amount), money.Format(invoice.Balance))
		}

		now := s.clock.Now()
		invoice.Adjustments = adjusted
		invoice.Settle(now)

		if err := s.repo.InsertAdjustment(ctx, tx, &domain.InvoiceAdjustment{
			ID:        s.genID.Generate(),
			ClinicID:  invoice.ClinicID,
			InvoiceID: invoice.ID,
			Amount:    req.Amount,
			Reason:    req.Reason,
			ActorID:   orgcontext.ActorFromContext(ctx).ID,
			CreatedAt: now,
		}); err != nil {
			return errs.Wrap(errs.CodeInternal, "insert adjustment", err)
		}
		if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
			return errs.Wrap(errs.CodeInternal, "update invoice", err)
		}
		_, err = s.aggregator.Recompute(ctx, tx, invoice.ClinicID, invoice.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "invoice.adjusted", invoice, map[string]any{
		"amount":  money.Format(req.Amount),
		"reason":  req.Reason,
		"balance": money.Format(invoice.Balance),
	})
	return invoice, nil
}

func (s *Service) MarkOverdue(ctx context.Context, clinicID snowflake.ID, asOf time.Time) (int, error) {
	candidates, err := s.repo.ListPastDue(ctx, s.db, clinicID, asOf)
	if err != nil {
		return 0, errs.Wrap(errs.CodeInternal, "list past due invoices", err)
	}

	marked := 0
	for _, candidate := range candidates {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.LockForUpdate(ctx, tx, clinicID, candidate.ID)
			if err != nil {
				return err
			}
			// paid or cancelled since it was listed
			if transition(invoice, domain.InvoiceStatusOverdue, asOf) != nil {
				return nil
			}
			invoice.UpdatedAt = s.clock.Now()
			if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
				return errs.Wrap(errs.CodeInternal, "mark invoice overdue", err)
			}
			marked++
			return nil
		})
		if err != nil {
			return marked, err
		}
	}

	if marked > 0 {
		s.log.Info("invoices marked overdue",
			zap.String("clinic_id", clinicID.String()),
			zap.Int("count", marked),
		)
	}
	return marked, nil
}

func (s *Service) LockForUpdate(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, tx, clinicID, id, true)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lock invoice", err)
	}
	if invoice == nil {
		return nil, errs.Newf(errs.CodeInvoiceNotFound, "invoice %s not found", id)
	}
	return invoice, nil
}

func (s *Service) ApplyPayment(ctx context.Context, tx *gorm.DB, clinicID, invoiceID snowflake.ID, amount decimal.Decimal) (*domain.Invoice, error) {
	if !money.IsPositive(amount) {
		return nil, validate.Invalid("amount", "must be positive")
	}
	invoice, err := s.LockForUpdate(ctx, tx, clinicID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.Allocatable() {
		return nil, errs.Newf(errs.CodeInvalidInvoiceState,
			"invoice %s in status %s cannot receive payments", invoice.InvoiceNumber, invoice.Status)
	}
	if amount.GreaterThan(invoice.Balance) {
		return nil, errs.Newf(errs.CodeAmountExceedsBalance,
			"amount %s exceeds invoice %s balance %s", money.Format(amount), invoice.InvoiceNumber, money.Format(invoice.Balance))
	}

	invoice.PaidAmount = invoice.PaidAmount.Add(amount)
	invoice.Status = domain.InvoiceStatusPartial
	invoice.Settle(s.clock.Now())

	if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "apply payment to invoice", err)
	}
	return invoice, nil
}

func (s *Service) ReverseAllocation(ctx context.Context, tx *gorm.DB, clinicID, invoiceID snowflake.ID, amount decimal.Decimal) (*domain.Invoice, error) {
	if !money.IsPositive(amount) {
		return nil, validate.Invalid("amount", "must be positive")
	}
	invoice, err := s.LockForUpdate(ctx, tx, clinicID, invoiceID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(invoice.PaidAmount) {
		return nil, errs.Newf(errs.CodeInvariantViolation,
			"reversal %s exceeds invoice %s paid amount %s", money.Format(amount), invoice.InvoiceNumber, money.Format(invoice.PaidAmount))
	}

	invoice.PaidAmount = invoice.PaidAmount.Sub(amount)
	invoice.Settle(s.clock.Now())

	if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "reverse invoice allocation", err)
	}
	return invoice, nil
}

func (s *Service) audit(ctx context.Context, action string, invoice *domain.Invoice, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: invoice.ClinicID,
		Action:   action,
		Entity:   "invoice",
		EntityID: invoice.ID,
		Details:  details,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
