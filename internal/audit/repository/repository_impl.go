package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return repository.ProvideStore[domain.AuditLog](db).Create(ctx, entry)
}

func (r *repo) ListForEntity(ctx context.Context, db *gorm.DB, clinicID snowflake.ID, entity, entityID string) ([]*domain.AuditLog, error) {
	return repository.ProvideStore[domain.AuditLog](db).Find(ctx,
		&domain.AuditLog{ClinicID: clinicID, Entity: entity, EntityID: entityID},
		repository.OrderBy("created_at asc, id asc"),
	)
}
