package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/audit/masking"
	"github.com/smallbiznis/clinicbill/internal/clock"
	obscontext "github.com/smallbiznis/clinicbill/internal/observability/context"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	clinicID := entry.ClinicID
	if clinicID == 0 {
		clinicID, _ = orgcontext.ClinicIDFromContext(ctx)
	}
	if clinicID == 0 {
		return domain.ErrInvalidClinic
	}

	actorID := strings.TrimSpace(entry.ActorID)
	if actorID == "" {
		actorID = orgcontext.ActorFromContext(ctx).ID
	}

	entity := strings.TrimSpace(entry.Entity)
	if entity == "" {
		entity = "unknown"
	}

	log := &domain.AuditLog{
		ID:        s.genID.Generate(),
		ClinicID:  clinicID,
		ActorID:   actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  entry.EntityID.String(),
		Details:   datatypes.JSONMap(masking.MaskDetails(entry.Details)),
		RequestID: obscontext.RequestIDFromContext(ctx),
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) ListForEntity(ctx context.Context, clinicID snowflake.ID, entity string, entityID snowflake.ID) ([]domain.AuditLog, error) {
	items, err := s.repo.ListForEntity(ctx, s.db, clinicID, entity, entityID.String())
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditLog, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

// Nop discards every entry; used where no audit trail is wired.
type Nop struct{}

func (Nop) Record(context.Context, domain.Entry) error { return nil }

func (Nop) ListForEntity(context.Context, snowflake.ID, string, snowflake.ID) ([]domain.AuditLog, error) {
	return nil, nil
}
