package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/clinicbill/internal/account/domain"
	"github.com/smallbiznis/clinicbill/internal/billingtest"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()

	account, err := s.Accounts.CreateAccount(ctx, domain.CreateAccountRequest{
		ClinicID:    s.ClinicID,
		PatientRef:  "  MRN-0042 ",
		DisplayName: "Ana Silva",
	})
	require.NoError(t, err)
	assert.Equal(t, "MRN-0042", account.PatientRef)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.Equal(t, "0.00", money.Format(account.Balance))

	_, err = s.Accounts.CreateAccount(ctx, domain.CreateAccountRequest{
		ClinicID:    s.ClinicID,
		PatientRef:  "MRN-0042",
		DisplayName: "Someone Else",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicatePatient)

	_, err = s.Accounts.CreateAccount(ctx, domain.CreateAccountRequest{ClinicID: s.ClinicID, PatientRef: "   "})
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	loaded, err := s.Accounts.GetAccount(ctx, s.ClinicID, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", loaded.DisplayName)
}

func TestAccountsAreScopedByClinic(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)

	_, err := s.Accounts.GetAccount(context.Background(), s.Node.Generate(), account.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestDisableAccount(t *testing.T) {
	s := billingtest.NewStack(t)
	account := s.Account(t)
	ctx := context.Background()

	disabled, err := s.Accounts.DisableAccount(ctx, s.ClinicID, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusDisabled, disabled.Status)

	again, err := s.Accounts.DisableAccount(ctx, s.ClinicID, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusDisabled, again.Status)

	_, err = s.Accounts.RequireActive(ctx, nil, s.ClinicID, account.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = s.Accounts.DisableAccount(ctx, s.ClinicID, s.Node.Generate())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
