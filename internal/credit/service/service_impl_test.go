package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/billingtest"
	"github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCredit(t *testing.T, s *billingtest.Stack, accountID snowflake.ID, amount string, expiresAt *time.Time) *domain.CreditBalance {
	t.Helper()
	credit, err := s.Credits.CreateCredit(context.Background(), domain.CreateCreditRequest{
		ClinicID:  s.ClinicID,
		AccountID: accountID,
		Amount:    money.MustParse(amount),
		Source:    domain.CreditSourceManual,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return credit
}

func TestCreateCredit(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	ctx := context.Background()

	credit := newCredit(t, s, account.ID, "50.00", nil)
	assert.Equal(t, domain.CreditStatusAvailable, credit.Status)
	assert.Equal(t, "50.00", money.Format(credit.RemainingAmount))
	assert.Equal(t, "-50.00", money.Format(s.ReloadAccount(t, account.ID).Balance))

	past := s.Clock.Now().Add(-time.Minute)
	cases := []struct {
		name string
		req  domain.CreateCreditRequest
	}{
		{"zero amount", domain.CreateCreditRequest{AccountID: account.ID, Amount: money.Zero, Source: domain.CreditSourceManual}},
		{"unknown source", domain.CreateCreditRequest{AccountID: account.ID, Amount: money.MustParse("1.00"), Source: "GIFT"}},
		{"expired on arrival", domain.CreateCreditRequest{AccountID: account.ID, Amount: money.MustParse("1.00"), Source: domain.CreditSourceManual, ExpiresAt: &past}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.ClinicID = s.ClinicID
			_, err := s.Credits.CreateCredit(ctx, tc.req)
			assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
		})
	}

	_, err := s.Credits.GetCredit(ctx, s.ClinicID, s.Node.Generate())
	assert.ErrorIs(t, err, domain.ErrCreditNotFound)
}

func TestApplyCredit(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "80.00")
	credit := newCredit(t, s, account.ID, "50.00", nil)

	res, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("30.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "20.00", money.Format(res.Credit.RemainingAmount))
	assert.Equal(t, domain.CreditStatusAvailable, res.Credit.Status)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, res.Invoice.Status)
	assert.Equal(t, "50.00", money.Format(res.Invoice.Balance))
	assert.Equal(t, "30.00", money.Format(res.Application.Amount))

	// 50 owed minus 20 credit still held
	assert.Equal(t, "30.00", money.Format(s.ReloadAccount(t, account.ID).Balance))

	res, err = s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("20.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CreditStatusApplied, res.Credit.Status)
	assert.Equal(t, "0.00", money.Format(res.Credit.RemainingAmount))
	billingtest.RequireInvoiceConsistent(t, s.ReloadInvoice(t, invoice.ID))

	var apps int64
	require.NoError(t, s.DB.Model(&domain.CreditApplication{}).Where("credit_id = ?", credit.ID).Count(&apps).Error)
	assert.Equal(t, int64(2), apps)
}

func TestApplyCreditInsufficient(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "100.00")
	credit := newCredit(t, s, account.ID, "50.00", nil)

	_, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("60.00"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Contains(t, err.Error(), "60.00")
	assert.Contains(t, err.Error(), "50.00")

	stored, err := s.Credits.GetCredit(context.Background(), s.ClinicID, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", money.Format(stored.RemainingAmount))
	inv := s.ReloadInvoice(t, invoice.ID)
	assert.Equal(t, "100.00", money.Format(inv.Balance))
	assert.Equal(t, invoicedomain.InvoiceStatusPending, inv.Status)
}

func TestApplyCreditExceedingInvoiceBalance(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "10.00")
	credit := newCredit(t, s, account.ID, "50.00", nil)

	_, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("20.00"),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrAmountExceeds)

	stored, err := s.Credits.GetCredit(context.Background(), s.ClinicID, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", money.Format(stored.RemainingAmount))
}

func TestApplyExpiredCredit(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "100.00")
	expires := s.Clock.Now().Add(24 * time.Hour)
	credit := newCredit(t, s, account.ID, "50.00", &expires)

	// the expiry instant itself is already expired
	s.Clock.Advance(24 * time.Hour)
	_, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("10.00"),
	})
	assert.ErrorIs(t, err, domain.ErrCreditExpired)
	assert.Equal(t, "100.00", money.Format(s.ReloadInvoice(t, invoice.ID).Balance))
}

func TestApplyCreditAccountMismatch(t *testing.T) {
	s := billingtest.NewStack(t)
	owner := s.Account(t)
	other := s.Account(t)
	invoice := s.Invoice(t, other.ID, "100.00")
	credit := newCredit(t, s, owner.ID, "50.00", nil)

	_, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, InvoiceID: invoice.ID, Amount: money.MustParse("10.00"),
	})
	assert.ErrorIs(t, err, domain.ErrAccountMismatch)
}

func TestTransferCredit(t *testing.T) {
	s := billingtest.NewStack(t)
	from := s.Account(t)
	to := s.Account(t)
	expires := s.Clock.Now().Add(90 * 24 * time.Hour)
	credit := newCredit(t, s, from.ID, "50.00", &expires)

	res, err := s.Credits.TransferCredit(context.Background(), domain.TransferCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, ToAccountID: to.ID, Amount: money.MustParse("20.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "30.00", money.Format(res.Source.RemainingAmount))
	assert.Equal(t, "20.00", money.Format(res.Destination.Amount))
	assert.Equal(t, domain.CreditSourceTransfer, res.Destination.Source)
	require.NotNil(t, res.Destination.SourceCreditID)
	assert.Equal(t, credit.ID, *res.Destination.SourceCreditID)
	require.NotNil(t, res.Destination.ExpiresAt)
	assert.True(t, expires.Equal(*res.Destination.ExpiresAt))

	total := res.Source.RemainingAmount.Add(res.Destination.RemainingAmount)
	assert.Equal(t, "50.00", money.Format(total))
	assert.Equal(t, "-30.00", money.Format(s.ReloadAccount(t, from.ID).Balance))
	assert.Equal(t, "-20.00", money.Format(s.ReloadAccount(t, to.ID).Balance))

	_, err = s.Credits.TransferCredit(context.Background(), domain.TransferCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, ToAccountID: from.ID, Amount: money.MustParse("1.00"),
	})
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = s.Credits.TransferCredit(context.Background(), domain.TransferCreditRequest{
		ClinicID: s.ClinicID, CreditID: credit.ID, ToAccountID: to.ID, Amount: money.MustParse("30.01"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)

	source, err := s.Credits.GetCredit(context.Background(), s.ClinicID, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", money.Format(source.RemainingAmount))
	dest, err := s.Credits.GetCredit(context.Background(), s.ClinicID, res.Destination.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", money.Format(dest.RemainingAmount))
	assert.Equal(t, "-30.00", money.Format(s.ReloadAccount(t, from.ID).Balance))
	assert.Equal(t, "-20.00", money.Format(s.ReloadAccount(t, to.ID).Balance))
}

func TestListAvailableCredits(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "100.00")
	soon := s.Clock.Now().Add(time.Hour)

	keep := newCredit(t, s, account.ID, "10.00", nil)
	newCredit(t, s, account.ID, "5.00", &soon)
	used := newCredit(t, s, account.ID, "15.00", nil)
	_, err := s.Credits.ApplyCredit(context.Background(), domain.ApplyCreditRequest{
		ClinicID: s.ClinicID, CreditID: used.ID, InvoiceID: invoice.ID, Amount: money.MustParse("15.00"),
	})
	require.NoError(t, err)

	credits, err := s.Credits.ListAvailableCredits(context.Background(), s.ClinicID, account.ID, s.Clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, keep.ID, credits[0].ID)
}
