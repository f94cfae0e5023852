package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/payment/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return repository.ProvideStore[domain.Payment](db).Create(ctx, payment)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*domain.Payment, error) {
	var opts []repository.QueryOption
	if forUpdate {
		opts = append(opts, repository.ForUpdate())
	}
	return repository.ProvideStore[domain.Payment](db).FindOne(ctx,
		&domain.Payment{ClinicID: clinicID, ID: id},
		opts...,
	)
}

func (r *repo) FindByRequestKey(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID, key string) (*domain.Payment, error) {
	return repository.ProvideStore[domain.Payment](db).FindOne(ctx,
		&domain.Payment{ClinicID: clinicID, AccountID: accountID, RequestKey: &key},
	)
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Model(&domain.Payment{}).
		Where("clinic_id = ? AND id = ?", payment.ClinicID, payment.ID).
		Updates(map[string]any{
			"status":               payment.Status,
			"gateway_provider":     payment.GatewayProvider,
			"gateway_reference_id": payment.GatewayReferenceID,
			"failure_reason":       payment.FailureReason,
			"completed_at":         payment.CompletedAt,
			"updated_at":           payment.UpdatedAt,
		}).Error
}

func (r *repo) InsertAllocations(ctx context.Context, db *gorm.DB, allocations []*domain.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&allocations).Error
}

func (r *repo) ListAllocations(ctx context.Context, db *gorm.DB, clinicID, paymentID snowflake.ID, forUpdate bool) ([]*domain.PaymentAllocation, error) {
	opts := []repository.QueryOption{repository.OrderBy("id ASC")}
	if forUpdate {
		opts = append(opts, repository.ForUpdate())
	}
	return repository.ProvideStore[domain.PaymentAllocation](db).Find(ctx,
		&domain.PaymentAllocation{ClinicID: clinicID, PaymentID: paymentID},
		opts...,
	)
}

func (r *repo) UpdateAllocationReversed(ctx context.Context, db *gorm.DB, allocation *domain.PaymentAllocation) error {
	return db.WithContext(ctx).Model(&domain.PaymentAllocation{}).
		Where("clinic_id = ? AND id = ?", allocation.ClinicID, allocation.ID).
		Updates(map[string]any{
			"reversed_amount": allocation.ReversedAmount,
			"updated_at":      allocation.UpdatedAt,
		}).Error
}
