package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	var opts []repository.QueryOption
	if forUpdate {
		opts = append(opts, repository.ForUpdate())
	}
	return repository.ProvideStore[domain.Invoice](db).FindOne(ctx,
		&domain.Invoice{ClinicID: clinicID, ID: id},
		opts...,
	)
}

func (r *repo) LoadItems(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("clinic_id = ? AND invoice_id = ?", invoice.ClinicID, invoice.ID).
		Order("position ASC").
		Find(&items).Error
	if err != nil {
		return err
	}
	invoice.Items = items
	return nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("clinic_id = ? AND id = ?", invoice.ClinicID, invoice.ID).
		Updates(map[string]any{
			"adjustments":  invoice.Adjustments,
			"paid_amount":  invoice.PaidAmount,
			"balance":      invoice.Balance,
			"status":       invoice.Status,
			"due_date":     invoice.DueDate,
			"notes":        invoice.Notes,
			"issued_at":    invoice.IssuedAt,
			"paid_at":      invoice.PaidAt,
			"cancelled_at": invoice.CancelledAt,
			"updated_at":   invoice.UpdatedAt,
		}).Error
}

func (r *repo) InsertAdjustment(ctx context.Context, db *gorm.DB, adj *domain.InvoiceAdjustment) error {
	return repository.ProvideStore[domain.InvoiceAdjustment](db).Create(ctx, adj)
}

func (r *repo) ListPastDue(ctx context.Context, db *gorm.DB, clinicID snowflake.ID, asOf time.Time) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("clinic_id = ? AND due_date IS NOT NULL AND due_date < ?", clinicID, asOf).
		Where("status IN ?", []domain.InvoiceStatus{
			domain.InvoiceStatusPending,
			domain.InvoiceStatusSent,
			domain.InvoiceStatusPartial,
		}).
		Order("id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *repo) ListOpenByAccount(ctx context.Context, db *gorm.DB, clinicID, accountID snowflake.ID) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("clinic_id = ? AND account_id = ?", clinicID, accountID).
		Where("status IN ?", domain.OpenStatuses).
		Order("id ASC").
		Find(&invoices).Error
	return invoices, err
}
