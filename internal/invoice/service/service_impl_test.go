package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/internal/billingtest"
	"github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func statusPtr(s domain.InvoiceStatus) *domain.InvoiceStatus { return &s }

func TestCreateInvoiceComputesTotals(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	due := s.Clock.Now().Add(30 * 24 * time.Hour)

	invoice, err := s.Invoices.CreateInvoice(context.Background(), domain.CreateInvoiceRequest{
		ClinicID:  s.ClinicID,
		AccountID: account.ID,
		DueDate:   &due,
		Items: []domain.ItemInput{
			{Description: "Consultation", Quantity: 2, UnitPrice: money.MustParse("45.50"), Discount: money.MustParse("1.00")},
			{Description: "Lab panel", Quantity: 1, UnitPrice: money.MustParse("30.00"), Discount: decimal.Zero},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-202503-000001", invoice.InvoiceNumber)
	assert.Equal(t, domain.InvoiceStatusPending, invoice.Status)
	assert.Equal(t, "120.00", money.Format(invoice.Subtotal))
	assert.Equal(t, "120.00", money.Format(invoice.Balance))
	assert.NotNil(t, invoice.IssuedAt)

	stored := s.ReloadInvoice(t, invoice.ID)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, 1, stored.Items[0].Position)
	assert.Equal(t, "90.00", money.Format(stored.Items[0].LineTotal))
	billingtest.RequireInvoiceConsistent(t, stored)

	assert.Equal(t, "120.00", money.Format(s.ReloadAccount(t, account.ID).Balance))
}

func TestCreateInvoiceRejectsBadInput(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	item := domain.ItemInput{Description: "Visit", Quantity: 1, UnitPrice: money.MustParse("10.00")}

	cases := []struct {
		name string
		req  domain.CreateInvoiceRequest
		code string
	}{
		{"no items", domain.CreateInvoiceRequest{AccountID: account.ID}, errs.CodeValidation},
		{"zero quantity", domain.CreateInvoiceRequest{AccountID: account.ID, Items: []domain.ItemInput{{Description: "Visit", Quantity: 0, UnitPrice: money.MustParse("10.00")}}}, errs.CodeValidation},
		{"discount above line", domain.CreateInvoiceRequest{AccountID: account.ID, Items: []domain.ItemInput{{Description: "Visit", Quantity: 1, UnitPrice: money.MustParse("10.00"), Discount: money.MustParse("11.00")}}}, errs.CodeValidation},
		{"sub cent price", domain.CreateInvoiceRequest{AccountID: account.ID, Items: []domain.ItemInput{{Description: "Visit", Quantity: 1, UnitPrice: decimal.RequireFromString("10.005")}}}, errs.CodeValidation},
		{"paid status", domain.CreateInvoiceRequest{AccountID: account.ID, Items: []domain.ItemInput{item}, Status: statusPtr(domain.InvoiceStatusPaid)}, errs.CodeValidation},
		{"unknown account", domain.CreateInvoiceRequest{AccountID: s.Node.Generate(), Items: []domain.ItemInput{item}}, errs.CodeAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.ClinicID = s.ClinicID
			_, err := s.Invoices.CreateInvoice(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err))
		})
	}
}

func TestDraftInvoiceIsNotOwed(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)

	invoice, err := s.Invoices.CreateInvoice(context.Background(), domain.CreateInvoiceRequest{
		ClinicID:  s.ClinicID,
		AccountID: account.ID,
		Status:    statusPtr(domain.InvoiceStatusDraft),
		Items:     []domain.ItemInput{{Description: "Visit", Quantity: 1, UnitPrice: money.MustParse("75.00")}},
	})
	require.NoError(t, err)
	assert.Nil(t, invoice.IssuedAt)
	assert.Equal(t, "0.00", money.Format(s.ReloadAccount(t, account.ID).Balance))

	sent, err := s.Invoices.UpdateInvoice(context.Background(), s.ClinicID, invoice.ID, domain.InvoicePatch{
		Status: statusPtr(domain.InvoiceStatusSent),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusSent, sent.Status)
	assert.NotNil(t, sent.IssuedAt)
	assert.Equal(t, "75.00", money.Format(s.ReloadAccount(t, account.ID).Balance))
}

func TestUpdateInvoiceTransitions(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	ctx := context.Background()

	invoice := s.Invoice(t, account.ID, "100.00")
	notes := "bring referral letter"
	updated, err := s.Invoices.UpdateInvoice(ctx, s.ClinicID, invoice.ID, domain.InvoicePatch{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, domain.InvoiceStatusPending, updated.Status)

	_, err = s.Invoices.UpdateInvoice(ctx, s.ClinicID, invoice.ID, domain.InvoicePatch{Status: statusPtr(domain.InvoiceStatusDraft)})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoiceState)

	s.Pay(t, account.ID, "10.00", billingtest.Alloc(invoice.ID, "10.00"))
	_, err = s.Invoices.UpdateInvoice(ctx, s.ClinicID, invoice.ID, domain.InvoicePatch{Status: statusPtr(domain.InvoiceStatusCancelled)})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoiceState, "paid money blocks cancellation")

	other := s.Invoice(t, account.ID, "40.00")
	cancelled, err := s.Invoices.UpdateInvoice(ctx, s.ClinicID, other.ID, domain.InvoicePatch{Status: statusPtr(domain.InvoiceStatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "90.00", money.Format(s.ReloadAccount(t, account.ID).Balance))

	_, err = s.Invoices.UpdateInvoice(ctx, s.ClinicID, other.ID, domain.InvoicePatch{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoiceState)

	_, err = s.Invoices.UpdateInvoice(ctx, s.ClinicID, s.Node.Generate(), domain.InvoicePatch{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestAdjustInvoice(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "100.00")
	ctx := context.Background()

	adjusted, err := s.Invoices.AdjustInvoice(ctx, domain.AdjustInvoiceRequest{
		ClinicID: s.ClinicID, InvoiceID: invoice.ID, Amount: money.MustParse("15.00"), Reason: "loyalty discount",
	})
	require.NoError(t, err)
	assert.Equal(t, "15.00", money.Format(adjusted.Adjustments))
	assert.Equal(t, "85.00", money.Format(adjusted.Balance))
	billingtest.RequireInvoiceConsistent(t, adjusted)

	_, err = s.Invoices.AdjustInvoice(ctx, domain.AdjustInvoiceRequest{
		ClinicID: s.ClinicID, InvoiceID: invoice.ID, Amount: money.MustParse("-20.00"), Reason: "undo",
	})
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	s.Pay(t, account.ID, "50.00", billingtest.Alloc(invoice.ID, "50.00"))
	_, err = s.Invoices.AdjustInvoice(ctx, domain.AdjustInvoiceRequest{
		ClinicID: s.ClinicID, InvoiceID: invoice.ID, Amount: money.MustParse("36.00"), Reason: "write-off",
	})
	assert.Equal(t, errs.CodeAmountExceedsBalance, errs.CodeOf(err))

	writtenOff, err := s.Invoices.AdjustInvoice(ctx, domain.AdjustInvoiceRequest{
		ClinicID: s.ClinicID, InvoiceID: invoice.ID, Amount: money.MustParse("35.00"), Reason: "write-off",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, writtenOff.Status)
	assert.Equal(t, "0.00", money.Format(writtenOff.Balance))
	billingtest.RequireInvoiceConsistent(t, writtenOff)

	var adjustments int64
	require.NoError(t, s.DB.Model(&domain.InvoiceAdjustment{}).Where("invoice_id = ?", invoice.ID).Count(&adjustments).Error)
	assert.Equal(t, int64(2), adjustments)
	assert.Equal(t, "0.00", money.Format(s.ReloadAccount(t, account.ID).Balance))
}

func TestApplyAndReverse(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	invoice := s.Invoice(t, account.ID, "100.00")
	ctx := context.Background()

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		inv, err := s.Invoices.ApplyPayment(ctx, tx, s.ClinicID, invoice.ID, money.MustParse("100.00"))
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)

		_, err = s.Invoices.ApplyPayment(ctx, tx, s.ClinicID, invoice.ID, money.MustParse("1.00"))
		assert.ErrorIs(t, err, domain.ErrInvalidInvoiceState)

		inv, err = s.Invoices.ReverseAllocation(ctx, tx, s.ClinicID, invoice.ID, money.MustParse("100.00"))
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceStatusPartial, inv.Status)
		assert.Equal(t, "100.00", money.Format(inv.Balance))
		assert.Nil(t, inv.PaidAt)

		_, err = s.Invoices.ApplyPayment(ctx, tx, s.ClinicID, invoice.ID, money.MustParse("100.01"))
		assert.ErrorIs(t, err, domain.ErrAmountExceeds)

		_, err = s.Invoices.ReverseAllocation(ctx, tx, s.ClinicID, invoice.ID, money.MustParse("0.01"))
		assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
		return nil
	})
	require.NoError(t, err)
}

func TestMarkOverdue(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	ctx := context.Background()
	past := s.Clock.Now().Add(-24 * time.Hour)
	future := s.Clock.Now().Add(24 * time.Hour)
	item := []domain.ItemInput{{Description: "Visit", Quantity: 1, UnitPrice: money.MustParse("20.00")}}

	late, err := s.Invoices.CreateInvoice(ctx, domain.CreateInvoiceRequest{ClinicID: s.ClinicID, AccountID: account.ID, Items: item, DueDate: &past})
	require.NoError(t, err)
	notYet, err := s.Invoices.CreateInvoice(ctx, domain.CreateInvoiceRequest{ClinicID: s.ClinicID, AccountID: account.ID, Items: item, DueDate: &future})
	require.NoError(t, err)
	paid, err := s.Invoices.CreateInvoice(ctx, domain.CreateInvoiceRequest{ClinicID: s.ClinicID, AccountID: account.ID, Items: item, DueDate: &past})
	require.NoError(t, err)
	s.Pay(t, account.ID, "20.00", billingtest.Alloc(paid.ID, "20.00"))

	n, err := s.Invoices.MarkOverdue(ctx, s.ClinicID, s.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.InvoiceStatusOverdue, s.ReloadInvoice(t, late.ID).Status)
	assert.Equal(t, domain.InvoiceStatusPending, s.ReloadInvoice(t, notYet.ID).Status)
	assert.Equal(t, domain.InvoiceStatusPaid, s.ReloadInvoice(t, paid.ID).Status)

	n, err = s.Invoices.MarkOverdue(ctx, s.ClinicID, s.Clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	// overdue invoices still take payments
	s.Pay(t, account.ID, "5.00", billingtest.Alloc(late.ID, "5.00"))
	assert.Equal(t, domain.InvoiceStatusPartial, s.ReloadInvoice(t, late.ID).Status)
}
