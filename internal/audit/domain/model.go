package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is one record of a successful mutating billing operation.
type AuditLog struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	ClinicID  snowflake.ID      `gorm:"not null;index:idx_audit_clinic_entity,priority:1"`
	ActorID   string            `gorm:"size:128"`
	Action    string            `gorm:"size:64;not null"`
	Entity    string            `gorm:"size:64;not null;index:idx_audit_clinic_entity,priority:2"`
	EntityID  string            `gorm:"size:64;not null;index:idx_audit_clinic_entity,priority:3"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	RequestID string            `gorm:"size:64"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }
