package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clinicbill/internal/audit/domain"
	"github.com/smallbiznis/clinicbill/internal/audit/repository"
	"github.com/smallbiznis/clinicbill/internal/clock"
	obscontext "github.com/smallbiznis/clinicbill/internal/observability/context"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestRecordUsesContextActorAndMasksDetails(t *testing.T) {
	svc := newTestService(t)
	ctx := orgcontext.WithActor(context.Background(), orgcontext.Actor{ID: "staff-1"})
	ctx = obscontext.WithRequestID(ctx, "req-42")

	err := svc.Record(ctx, domain.Entry{
		ClinicID: 10,
		Action:   "payment.completed",
		Entity:   "payment",
		EntityID: 99,
		Details: map[string]any{
			"amount":               "200.00",
			"gateway_reference_id": "pi_1234567890",
		},
	})
	require.NoError(t, err)

	logs, err := svc.ListForEntity(context.Background(), 10, "payment", 99)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "staff-1", logs[0].ActorID)
	assert.Equal(t, "req-42", logs[0].RequestID)
	assert.Equal(t, "200.00", logs[0].Details["amount"])
	assert.Equal(t, "pi_****7890", logs[0].Details["gateway_reference_id"])
}

func TestRecordRejectsMissingActionOrClinic(t *testing.T) {
	svc := newTestService(t)

	err := svc.Record(context.Background(), domain.Entry{ClinicID: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	err = svc.Record(context.Background(), domain.Entry{Action: "invoice.created"})
	assert.ErrorIs(t, err, domain.ErrInvalidClinic)

	ctx := orgcontext.WithClinicID(context.Background(), 11)
	assert.NoError(t, svc.Record(ctx, domain.Entry{Action: "invoice.created", Entity: "invoice", EntityID: 1}))
}
