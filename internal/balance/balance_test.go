package balance_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/clinicbill/internal/billingtest"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRecomputeNetsOpenInvoicesAgainstCredit(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	account := s.Account(t)

	s.Invoice(t, account.ID, "100.00")
	partial := s.Invoice(t, account.ID, "80.00")
	s.Pay(t, account.ID, "30.00", billingtest.Alloc(partial.ID, "30.00"))

	_, err := s.Credits.CreateCredit(ctx, creditdomain.CreateCreditRequest{
		ClinicID: s.ClinicID, AccountID: account.ID, Amount: money.MustParse("25.00"), Source: creditdomain.CreditSourceManual,
	})
	require.NoError(t, err)
	expires := s.Clock.Now().Add(time.Hour)
	_, err = s.Credits.CreateCredit(ctx, creditdomain.CreateCreditRequest{
		ClinicID: s.ClinicID, AccountID: account.ID, Amount: money.MustParse("5.00"), Source: creditdomain.CreditSourceManual, ExpiresAt: &expires,
	})
	require.NoError(t, err)

	var got string
	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		b, err := s.Aggregator.Recompute(ctx, tx, s.ClinicID, account.ID)
		got = money.Format(b)
		return err
	}))
	assert.Equal(t, "120.00", got)
	assert.Equal(t, got, money.Format(s.ReloadAccount(t, account.ID).Balance))

	// once expired, credit no longer offsets the balance
	s.Clock.Advance(2 * time.Hour)
	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		b, err := s.Aggregator.Recompute(ctx, tx, s.ClinicID, account.ID)
		got = money.Format(b)
		return err
	}))
	assert.Equal(t, "125.00", got)
}

func TestRecomputeCanGoNegative(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	account := s.Account(t)
	s.Invoice(t, account.ID, "10.00")

	_, err := s.Credits.CreateCredit(ctx, creditdomain.CreateCreditRequest{
		ClinicID: s.ClinicID, AccountID: account.ID, Amount: money.MustParse("40.00"), Source: creditdomain.CreditSourceOverpayment,
	})
	require.NoError(t, err)
	assert.Equal(t, "-30.00", money.Format(s.ReloadAccount(t, account.ID).Balance))
}

func TestRecomputeRejectsCorruptRows(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "10.00")

	require.NoError(t, s.DB.Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Update("balance", money.MustParse("-1.00")).Error)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		_, err := s.Aggregator.Recompute(ctx, tx, s.ClinicID, account.ID)
		return err
	})
	assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
}

func TestRecomputeUnknownAccount(t *testing.T) {
	s := billingtest.NewStack(t)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		_, err := s.Aggregator.Recompute(context.Background(), tx, s.ClinicID, s.Node.Generate())
		return err
	})
	assert.Equal(t, errs.CodeAccountNotFound, errs.CodeOf(err))
}
