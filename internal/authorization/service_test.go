package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRefundApproval(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor orgcontext.Actor
		allow bool
	}{
		{"billing manager", orgcontext.Actor{ID: "u1", Role: "billing_manager"}, true},
		{"owner inherits", orgcontext.Actor{ID: "u2", Role: "OWNER"}, true},
		{"admin inherits", orgcontext.Actor{ID: "u3", Role: "admin"}, true},
		{"cashier", orgcontext.Actor{ID: "u4", Role: "cashier"}, false},
		{"missing role", orgcontext.Actor{ID: "u5"}, false},
		{"anonymous", orgcontext.Actor{Role: "owner"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, 1, tc.actor, ObjectRefund, ActionRefundApprove)
			if tc.allow {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrForbidden)
			assert.Equal(t, errs.KindForbidden, errs.From(err).Kind())
		})
	}
}

func TestCashierMayTransferCredit(t *testing.T) {
	svc := newTestService(t)
	actor := orgcontext.Actor{ID: "u1", Role: "cashier"}

	assert.NoError(t, svc.Authorize(context.Background(), 1, actor, ObjectCredit, ActionCreditTransfer))
	assert.ErrorIs(t, svc.Authorize(context.Background(), 1, actor, ObjectInvoice, ActionInvoiceAdjust), ErrForbidden)
}
