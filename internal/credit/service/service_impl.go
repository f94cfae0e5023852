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
	"github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/clinicbill/internal/observability/metrics"
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
	repo       domain.Repository
	accountSvc accountdomain.Service
	invoiceSvc invoicedomain.Service
	aggregator balance.Aggregator
	auditSvc   auditdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		accountSvc: p.AccountSvc,
		invoiceSvc: p.InvoiceSvc,
		aggregator: p.Aggregator,
		auditSvc:   p.AuditSvc,
		metrics:    p.ObsMetrics,
	}
}

func (s *Service) CreateCredit(ctx context.Context, req domain.CreateCreditRequest) (*domain.CreditBalance, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.Source.Valid() {
		return nil, validate.Invalid("source", "unknown credit source %q", req.Source)
	}
	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, validate.Invalid("expires_at", "must be in the future")
	}
	if _, err := s.accountSvc.RequireActive(ctx, s.db, req.ClinicID, req.AccountID); err != nil {
		return nil, err
	}

	credit := &domain.CreditBalance{
		ID:              s.genID.Generate(),
		ClinicID:        req.ClinicID,
		AccountID:       req.AccountID,
		Amount:          req.Amount,
		RemainingAmount: req.Amount,
		Status:          domain.CreditStatusAvailable,
		Source:          req.Source,
		ExpiresAt:       req.ExpiresAt,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, credit); err != nil {
			return errs.Wrap(errs.CodeInternal, "insert credit", err)
		}
		_, err := s.aggregator.Recompute(ctx, tx, credit.ClinicID, credit.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordMetric(ctx, "create")
	s.audit(ctx, "credit.created", credit, map[string]any{
		"amount": money.Format(credit.Amount),
		"source": string(credit.Source),
	})
	return credit, nil
}

func (s *Service) GetCredit(ctx context.Context, clinicID, id snowflake.ID) (*domain.CreditBalance, error) {
	credit, err := s.repo.FindByID(ctx, s.db, clinicID, id, false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load credit", err)
	}
	if credit == nil {
		return nil, domain.ErrCreditNotFound
	}
	return credit, nil
}

func (s *Service) ApplyCredit(ctx context.Context, req domain.ApplyCreditRequest) (*domain.ApplyCreditResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	result := &domain.ApplyCreditResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock rows in id order
		if req.InvoiceID < req.CreditID {
			if _, err := s.invoiceSvc.LockForUpdate(ctx, tx, req.ClinicID, req.InvoiceID); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		credit, err := s.lockUsable(ctx, tx, req.ClinicID, req.CreditID, req.Amount, now)
		if err != nil {
			return err
		}

		invoice, err := s.invoiceSvc.LockForUpdate(ctx, tx, req.ClinicID, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.AccountID != credit.AccountID {
			return domain.ErrAccountMismatch
		}
		invoice, err = s.invoiceSvc.ApplyPayment(ctx, tx, req.ClinicID, req.InvoiceID, req.Amount)
		if err != nil {
			return err
		}

		credit.Consume(req.Amount, now)
		if err := s.repo.UpdateRemaining(ctx, tx, credit); err != nil {
			return errs.Wrap(errs.CodeInternal, "update credit", err)
		}
		app := &domain.CreditApplication{
			ID:        s.genID.Generate(),
			ClinicID:  req.ClinicID,
			CreditID:  credit.ID,
			InvoiceID: invoice.ID,
			Amount:    req.Amount,
			CreatedAt: now,
		}
		if err := s.repo.InsertApplication(ctx, tx, app); err != nil {
			return errs.Wrap(errs.CodeInternal, "insert credit application", err)
		}
		if _, err := s.aggregator.Recompute(ctx, tx, credit.ClinicID, credit.AccountID); err != nil {
			return err
		}

		result.Credit = credit
		result.Invoice = invoice
		result.Application = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credit applied",
		zap.String("credit_id", result.Credit.ID.String()),
		zap.String("invoice_id", result.Invoice.ID.String()),
		zap.String("amount", money.Format(req.Amount)),
	)
	s.recordMetric(ctx, "apply")
	s.audit(ctx, "credit.applied", result.Credit, map[string]any{
		"invoice_id": result.Invoice.ID.String(),
		"amount":     money.Format(req.Amount),
		"remaining":  money.Format(result.Credit.RemainingAmount),
	})
	return result, nil
}

func (s *Service) TransferCredit(ctx context.Context, req domain.TransferCreditRequest) (*domain.TransferCreditResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	result := &domain.TransferCreditResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		source, err := s.lockUsable(ctx, tx, req.ClinicID, req.CreditID, req.Amount, now)
		if err != nil {
			return err
		}
		if source.AccountID == req.ToAccountID {
			return validate.Invalid("to_account_id", "must differ from the credit's account")
		}
		if _, err := s.accountSvc.RequireActive(ctx, tx, req.ClinicID, req.ToAccountID); err != nil {
			return err
		}

		source.Consume(req.Amount, now)
		if err := s.repo.UpdateRemaining(ctx, tx, source); err != nil {
			return errs.Wrap(errs.CodeInternal, "update credit", err)
		}

		sourceID := source.ID
		dest := &domain.CreditBalance{
			ID:              s.genID.Generate(),
			ClinicID:        req.ClinicID,
			AccountID:       req.ToAccountID,
			Amount:          req.Amount,
			RemainingAmount: req.Amount,
			Status:          domain.CreditStatusAvailable,
			Source:          domain.CreditSourceTransfer,
			SourceCreditID:  &sourceID,
			ExpiresAt:       source.ExpiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Insert(ctx, tx, dest); err != nil {
			return errs.Wrap(errs.CodeInternal, "insert transferred credit", err)
		}

		accounts := []snowflake.ID{source.AccountID, dest.AccountID}
		if accounts[1] < accounts[0] {
			accounts[0], accounts[1] = accounts[1], accounts[0]
		}
		for _, accountID := range accounts {
			if _, err := s.aggregator.Recompute(ctx, tx, req.ClinicID, accountID); err != nil {
				return err
			}
		}

		result.Source = source
		result.Destination = dest
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordMetric(ctx, "transfer")
	s.audit(ctx, "credit.transferred", result.Source, map[string]any{
		"to_account_id": req.ToAccountID.String(),
		"to_credit_id":  result.Destination.ID.String(),
		"amount":        money.Format(req.Amount),
		"remaining":     money.Format(result.Source.RemainingAmount),
	})
	return result, nil
}

func (s *Service) ListAvailableCredits(ctx context.Context, clinicID, accountID snowflake.ID, asOf time.Time) ([]*domain.CreditBalance, error) {
	credits, err := s.repo.ListAvailable(ctx, s.db, clinicID, accountID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "list credits", err)
	}
	usable := make([]*domain.CreditBalance, 0, len(credits))
	for _, c := range credits {
		if c.Usable(asOf) {
			usable = append(usable, c)
		}
	}
	return usable, nil
}

// lockUsable loads the credit under lock and checks it can give amount.
func (s *Service) lockUsable(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID, amount decimal.Decimal, now time.Time) (*domain.CreditBalance, error) {
	credit, err := s.repo.FindByID(ctx, tx, clinicID, id, true)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "lock credit", err)
	}
	if credit == nil {
		return nil, domain.ErrCreditNotFound
	}
	if credit.Expired(now) {
		return nil, errs.Newf(errs.CodeCreditExpired, "credit %s expired at %s", credit.ID, credit.ExpiresAt.Format(time.RFC3339))
	}
	if credit.Status != domain.CreditStatusAvailable || amount.GreaterThan(credit.RemainingAmount) {
		return nil, errs.Newf(errs.CodeInsufficientCredit,
			"requested %s exceeds remaining credit %s", money.Format(amount), money.Format(credit.RemainingAmount))
	}
	return credit, nil
}

func (s *Service) recordMetric(ctx context.Context, operation string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCreditOperation(ctx, operation)
}

func (s *Service) audit(ctx context.Context, action string, credit *domain.CreditBalance, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: credit.ClinicID,
		Action:   action,
		Entity:   "credit_balance",
		EntityID: credit.ID,
		Details:  details,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
