package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry is what callers hand to Record after their transaction commits.
type Entry struct {
	ClinicID snowflake.ID
	Action   string
	Entity   string
	EntityID snowflake.ID
	// ActorID falls back to the actor carried on the context.
	ActorID string
	Details map[string]any
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	ListForEntity(ctx context.Context, clinicID snowflake.ID, entity string, entityID snowflake.ID) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListForEntity(ctx context.Context, db *gorm.DB, clinicID snowflake.ID, entity, entityID string) ([]*AuditLog, error)
}

var (
	ErrInvalidClinic = errors.New("invalid_clinic")
	ErrInvalidAction = errors.New("invalid_action")
)
