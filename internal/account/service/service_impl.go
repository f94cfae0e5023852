package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/internal/account/domain"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/pkg/db"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/validate"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("account.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.PatientAccount, error) {
	req.PatientRef = strings.TrimSpace(req.PatientRef)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := &domain.PatientAccount{
		ID:          s.genID.Generate(),
		ClinicID:    req.ClinicID,
		PatientRef:  req.PatientRef,
		DisplayName: req.DisplayName,
		Balance:     decimal.Zero,
		Status:      domain.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicatePatient
		}
		return nil, errs.Wrap(errs.CodeInternal, "create account", err)
	}

	s.audit(ctx, "account.created", account)
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, clinicID, id snowflake.ID) (*domain.PatientAccount, error) {
	account, err := s.repo.FindByID(ctx, s.db, clinicID, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load account", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) DisableAccount(ctx context.Context, clinicID, id snowflake.ID) (*domain.PatientAccount, error) {
	account, err := s.GetAccount(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if account.Status == domain.AccountStatusDisabled {
		return account, nil
	}

	account.Status = domain.AccountStatusDisabled
	account.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, account); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "disable account", err)
	}

	s.audit(ctx, "account.disabled", account)
	return account, nil
}

func (s *Service) RequireActive(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*domain.PatientAccount, error) {
	if tx == nil {
		tx = s.db
	}
	account, err := s.repo.FindByID(ctx, tx, clinicID, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "load account", err)
	}
	if account == nil || account.Status != domain.AccountStatusActive {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) audit(ctx context.Context, action string, account *domain.PatientAccount) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: account.ClinicID,
		Action:   action,
		Entity:   "patient_account",
		EntityID: account.ID,
		Details: map[string]any{
			"patient_ref": account.PatientRef,
			"status":      string(account.Status),
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
