package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/credit/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, credit *domain.CreditBalance) error {
	return repository.ProvideStore[domain.CreditBalance](db).Create(ctx, credit)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*domain.CreditBalance, error) {
	var opts []repository.QueryOption
	if forUpdate {
		opts = append(opts, repository.ForUpdate())
	}
	return repository.ProvideStore[domain.CreditBalance](db).FindOne(ctx,
		&domain.CreditBalance{ClinicID: clinicID, ID: id},
		opts...,
	)
}

func (r *repo) UpdateRemaining(ctx context.Context, db *gorm.DB, credit *domain.CreditBalance) error {
	return db.WithContext(ctx).Model(&domain.CreditBalance{}).
		Where("clinic_id = ? AND id = ?", credit.ClinicID, credit.ID).
		Updates(map[string]any{
			"remaining_amount": credit.RemainingAmount,
			"status":           credit.Status,
			"updated_at":       credit.UpdatedAt,
		}).Error
}

func (r *repo) InsertApplication(ctx context.Context, db *gorm.DB, app *domain.CreditApplication) error {
	return repository.ProvideStore[domain.CreditApplication](db).Create(ctx, app)
}

func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID) ([]*domain.CreditBalance, error) {
	return repository.ProvideStore[domain.CreditBalance](db).Find(ctx,
		&domain.CreditBalance{
			ClinicID:  clinicID,
			AccountID: accountID,
			Status:    domain.CreditStatusAvailable,
		},
		repository.OrderBy("created_at ASC, id ASC"),
	)
}
