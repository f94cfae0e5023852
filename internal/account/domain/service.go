package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	ClinicID    snowflake.ID `json:"-" validate:"required"`
	PatientRef  string       `json:"patient_ref" validate:"required,max=64"`
	DisplayName string       `json:"display_name" validate:"required,max=200"`
}

type Service interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*PatientAccount, error)
	GetAccount(ctx context.Context, clinicID, id snowflake.ID) (*PatientAccount, error)
	DisableAccount(ctx context.Context, clinicID, id snowflake.ID) (*PatientAccount, error)
	// RequireActive loads the account under tx and fails when it is
	// missing or disabled.
	RequireActive(ctx context.Context, tx *gorm.DB, clinicID, id snowflake.ID) (*PatientAccount, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *PatientAccount) error
	FindByID(ctx context.Context, db *gorm.DB, clinicID, id snowflake.ID) (*PatientAccount, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, account *PatientAccount) error
}

var (
	ErrAccountNotFound  = errs.New(errs.CodeAccountNotFound, "account not found")
	ErrDuplicatePatient = errs.New(errs.CodeValidation, "patient_ref already has an account")
)
