package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCASAttempts = 8

// BillingSequence is the counter row behind DBSequencer.
type BillingSequence struct {
	ClinicID   snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Scope      string       `gorm:"primaryKey;size:32"`
	NextNumber int64        `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

func (BillingSequence) TableName() string { return "billing_sequences" }

// DBSequencer keeps counters in billing_sequences and advances them with
// compare-and-swap updates, so it never scans existing documents.
type DBSequencer struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewDBSequencer(conn *gorm.DB, log *zap.Logger, clk clock.Clock) *DBSequencer {
	return &DBSequencer{db: conn, log: log.Named("sequence.db"), clock: clk}
}

func (s *DBSequencer) Next(ctx context.Context, scope Scope) (int64, error) {
	if !scope.valid() {
		return 0, ErrInvalidScope
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var row BillingSequence
		err := s.db.WithContext(ctx).
			Where("clinic_id = ? AND scope = ?", scope.ClinicID, scope.Name).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = s.db.WithContext(ctx).Create(&BillingSequence{
				ClinicID:   scope.ClinicID,
				Scope:      scope.Name,
				NextNumber: 2,
				UpdatedAt:  s.clock.Now(),
			}).Error
			if err == nil {
				return 1, nil
			}
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return 0, fmt.Errorf("create sequence %s: %w", scope.Name, err)
		}
		if err != nil {
			return 0, fmt.Errorf("read sequence %s: %w", scope.Name, err)
		}

		res := s.db.WithContext(ctx).Model(&BillingSequence{}).
			Where("clinic_id = ? AND scope = ? AND next_number = ?", scope.ClinicID, scope.Name, row.NextNumber).
			Updates(map[string]any{
				"next_number": row.NextNumber + 1,
				"updated_at":  s.clock.Now(),
			})
		if res.Error != nil {
			return 0, fmt.Errorf("advance sequence %s: %w", scope.Name, res.Error)
		}
		if res.RowsAffected == 1 {
			return row.NextNumber, nil
		}
		s.log.Debug("sequence cas lost", zap.String("scope", scope.Name), zap.Int("attempt", attempt+1))
	}

	return 0, ErrContention
}
