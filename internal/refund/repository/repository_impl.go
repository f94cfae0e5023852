package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/refund/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return repository.ProvideStore[domain.Refund](db).Create(ctx, refund)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*domain.Refund, error) {
	var opts []repository.QueryOption
	if forUpdate {
		opts = append(opts, repository.ForUpdate())
	}
	return repository.ProvideStore[domain.Refund](db).FindOne(ctx,
		&domain.Refund{ClinicID: clinicID, ID: id},
		opts...,
	)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Model(&domain.Refund{}).
		Where("clinic_id = ? AND id = ?", refund.ClinicID, refund.ID).
		Updates(map[string]any{
			"status":               refund.Status,
			"gateway_reference_id": refund.GatewayReferenceID,
			"approved_by":          refund.ApprovedBy,
			"approved_at":          refund.ApprovedAt,
			"declined_by":          refund.DeclinedBy,
			"declined_reason":      refund.DeclinedReason,
			"completed_at":         refund.CompletedAt,
			"updated_at":           refund.UpdatedAt,
		}).Error
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, clinicID, paymentID snowflake.ID) ([]*domain.Refund, error) {
	return repository.ProvideStore[domain.Refund](db).Find(ctx,
		&domain.Refund{ClinicID: clinicID, PaymentID: paymentID},
		repository.OrderBy("id ASC"),
	)
}

func (r *repo) InsertReversals(ctx context.Context, db *gorm.DB, reversals []*domain.RefundReversal) error {
	if len(reversals) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&reversals).Error
}

func (r *repo) ListReversals(ctx context.Context, db *gorm.DB, clinicID, refundID snowflake.ID) ([]*domain.RefundReversal, error) {
	return repository.ProvideStore[domain.RefundReversal](db).Find(ctx,
		&domain.RefundReversal{ClinicID: clinicID, RefundID: refundID},
		repository.OrderBy("id ASC"),
	)
}
