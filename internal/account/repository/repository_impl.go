package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/account/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.PatientAccount) error {
	return repository.ProvideStore[domain.PatientAccount](db).Create(ctx, account)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID) (*domain.PatientAccount, error) {
	return repository.ProvideStore[domain.PatientAccount](db).FindOne(ctx,
		&domain.PatientAccount{ClinicID: clinicID, ID: id},
	)
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, account *domain.PatientAccount) error {
	return db.WithContext(ctx).Model(&domain.PatientAccount{}).
		Where("clinic_id = ? AND id = ?", account.ClinicID, account.ID).
		Updates(map[string]any{
			"status":     account.Status,
			"updated_at": account.UpdatedAt,
		}).Error
}
