// Package balance derives the denormalized patient account balance from
// open invoices and usable credit.
package balance

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	"github.com/smallbiznis/clinicbill/internal/clock"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("balance",
	fx.Provide(NewAggregator),
)

// Aggregator recomputes PatientAccount.Balance. Callers invoke it inside
// the transaction that changed invoices or credits, once per affected
// account.
type Aggregator interface {
	Recompute(ctx context.Context, tx *gorm.DB, clinicID, accountID snowflake.ID) (decimal.Decimal, error)
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

type aggregator struct {
	log   *zap.Logger
	clock clock.Clock
}

func NewAggregator(p Params) Aggregator {
	return &aggregator{log: p.Log.Named("balance.aggregator"), clock: p.Clock}
}

func (a *aggregator) Recompute(ctx context.Context, tx *gorm.DB, clinicID, accountID snowflake.ID) (decimal.Decimal, error) {
	var invoices []invoicedomain.Invoice
	err := tx.WithContext(ctx).
		Select("id", "balance").
		Where("clinic_id = ? AND account_id = ?", clinicID, accountID).
		Where("status IN ?", invoicedomain.OpenStatuses).
		Find(&invoices).Error
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeInternal, "load open invoices", err)
	}

	owed := decimal.Zero
	for _, inv := range invoices {
		if inv.Balance.IsNegative() {
			a.log.Error("negative invoice balance",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("balance", money.Format(inv.Balance)),
			)
			return decimal.Zero, errs.Newf(errs.CodeInvariantViolation,
				"invoice %s has negative balance %s", inv.ID, money.Format(inv.Balance))
		}
		owed = owed.Add(inv.Balance)
	}

	var credits []creditdomain.CreditBalance
	err = tx.WithContext(ctx).
		Where("clinic_id = ? AND account_id = ? AND status = ?", clinicID, accountID, creditdomain.CreditStatusAvailable).
		Find(&credits).Error
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeInternal, "load credits", err)
	}

	now := a.clock.Now()
	held := decimal.Zero
	for i := range credits {
		c := &credits[i]
		if c.RemainingAmount.IsNegative() || c.RemainingAmount.GreaterThan(c.Amount) {
			a.log.Error("credit remaining out of range",
				zap.String("credit_id", c.ID.String()),
				zap.String("amount", money.Format(c.Amount)),
				zap.String("remaining", money.Format(c.RemainingAmount)),
			)
			return decimal.Zero, errs.Newf(errs.CodeInvariantViolation,
				"credit %s remaining %s outside [0, %s]", c.ID, money.Format(c.RemainingAmount), money.Format(c.Amount))
		}
		if c.Usable(now) {
			held = held.Add(c.RemainingAmount)
		}
	}

	balance := money.Round(owed.Sub(held))
	res := tx.WithContext(ctx).Model(&accountdomain.PatientAccount{}).
		Where("clinic_id = ? AND id = ?", clinicID, accountID).
		Updates(map[string]any{
			"balance":    balance,
			"updated_at": now,
		})
	if res.Error != nil {
		return decimal.Zero, errs.Wrap(errs.CodeInternal, "update account balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, accountdomain.ErrAccountNotFound
	}

	a.log.Debug("account balance recomputed",
		zap.String("account_id", accountID.String()),
		zap.String("balance", money.Format(balance)),
	)
	return balance, nil
}
