// Package domain contains patient account models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusDisabled AccountStatus = "DISABLED"
)

// PatientAccount is the billing identity of a patient within a clinic.
// Balance is denormalized and written only by the balance aggregator.
type PatientAccount struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClinicID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_account_patient_ref,priority:1" json:"clinic_id"`
	PatientRef  string          `gorm:"size:64;not null;uniqueIndex:ux_account_patient_ref,priority:2" json:"patient_ref"`
	DisplayName string          `gorm:"size:200;not null" json:"display_name"`
	Balance     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"balance"`
	Status      AccountStatus   `gorm:"size:16;not null" json:"status"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (PatientAccount) TableName() string { return "patient_accounts" }
