// Package authorization decides which actor roles may perform privileged
// billing actions such as approving refunds.
package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectRefund  = "refund"
	ObjectInvoice = "invoice"
	ObjectCredit  = "credit"
)

const (
	ActionRefundApprove  = "refund.approve"
	ActionRefundDecline  = "refund.decline"
	ActionInvoiceAdjust  = "invoice.adjust"
	ActionCreditTransfer = "credit.transfer"
)

var ErrForbidden = errs.New(errs.CodeForbidden, "actor is not allowed to perform this action")

type Service interface {
	Authorize(ctx context.Context, clinicID snowflake.ID, actor orgcontext.Actor, object, action string) error
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer builds an in-memory enforcer seeded with the role policies.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, clinicID snowflake.ID, actor orgcontext.Actor, object, action string) error {
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if actor.ID == "" || role == "" {
		s.auditDenied(ctx, clinicID, actor, object, action)
		return ErrForbidden
	}

	allowed, err := s.enforcer.Enforce("role:"+role, object, action)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "evaluate policy", err)
	}
	if !allowed {
		s.auditDenied(ctx, clinicID, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, clinicID snowflake.ID, actor orgcontext.Actor, object, action string) {
	s.log.Info("authorization denied",
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", actor.Role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil || clinicID == 0 {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ClinicID: clinicID,
		Action:   "authorization.denied",
		Entity:   object,
		ActorID:  actor.ID,
		Details: map[string]any{
			"action": action,
			"role":   actor.Role,
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:billing_manager", ObjectRefund, ActionRefundApprove},
		{"role:billing_manager", ObjectRefund, ActionRefundDecline},
		{"role:billing_manager", ObjectInvoice, ActionInvoiceAdjust},
		{"role:billing_manager", ObjectCredit, ActionCreditTransfer},

		{"role:cashier", ObjectCredit, ActionCreditTransfer},
	}
	if _, err := enforcer.AddPolicies(policies); err != nil {
		return err
	}

	// owners and admins inherit everything a billing manager may do
	groupings := [][]string{
		{"role:owner", "role:billing_manager"},
		{"role:admin", "role:billing_manager"},
	}
	_, err := enforcer.AddGroupingPolicies(groupings)
	return err
}
