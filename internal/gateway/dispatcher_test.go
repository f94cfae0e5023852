package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/clinicbill/internal/config"
	"github.com/smallbiznis/clinicbill/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAdapter struct {
	mock.Mock
	provider string
	delay    time.Duration
}

func (m *mockAdapter) Provider() string { return m.provider }

func (m *mockAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (Result, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	args := m.Called(req)
	return args.Get(0).(Result), args.Error(1)
}

func (m *mockAdapter) CreateRefund(ctx context.Context, req RefundRequest) (Result, error) {
	args := m.Called(req)
	return args.Get(0).(Result), args.Error(1)
}

func holder(provider string, timeout time.Duration) *config.BillingConfigHolder {
	cfg := config.DefaultBillingConfig()
	cfg.GatewayProvider = provider
	cfg.GatewayTimeout = timeout
	return config.NewStaticBillingConfigHolder(cfg)
}

func TestDispatcherRoutesToDefaultProvider(t *testing.T) {
	adapter := &mockAdapter{provider: "stripe"}
	req := ChargeRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "pay_1"}
	adapter.On("CreateCharge", req).Return(Result{ReferenceID: "pi_1", Status: StatusSucceeded}, nil).Once()

	d := NewStaticDispatcher(holder("Stripe", time.Second), zap.NewNop(), adapter)
	res, err := d.Charge(context.Background(), "", req)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.ReferenceID)
	adapter.AssertExpectations(t)
}

func TestDispatcherStampsCorrelationID(t *testing.T) {
	adapter := &mockAdapter{provider: "stripe"}
	meta := map[string]string{"payment_number": "PAY-1"}
	want := ChargeRequest{
		AmountMinor:    100,
		Currency:       "USD",
		IdempotencyKey: "pay_1",
		Metadata:       map[string]string{"payment_number": "PAY-1", "correlation_id": "corr-9"},
	}
	adapter.On("CreateCharge", want).Return(Result{ReferenceID: "pi_2", Status: StatusSucceeded}, nil).Once()

	d := NewStaticDispatcher(holder("stripe", time.Second), zap.NewNop(), adapter)
	ctx := correlation.WithID(context.Background(), "corr-9")
	_, err := d.Charge(ctx, "", ChargeRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "pay_1", Metadata: meta})
	require.NoError(t, err)
	assert.Len(t, meta, 1)
	adapter.AssertExpectations(t)
}

func TestDispatcherRejectsUnknownProviderAndBadRequests(t *testing.T) {
	d := NewStaticDispatcher(holder("stripe", time.Second), zap.NewNop(), &mockAdapter{provider: "stripe"})

	_, err := d.Charge(context.Background(), "adyen", ChargeRequest{AmountMinor: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = d.Charge(context.Background(), "stripe", ChargeRequest{AmountMinor: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Refund(context.Background(), "stripe", RefundRequest{AmountMinor: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatcherTimesOut(t *testing.T) {
	adapter := &mockAdapter{provider: "stripe", delay: time.Second}
	d := NewStaticDispatcher(holder("stripe", 20*time.Millisecond), zap.NewNop(), adapter)

	_, err := d.Charge(context.Background(), "stripe", ChargeRequest{AmountMinor: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubFactory struct{ name string }

func (f stubFactory) Provider() string { return f.name }

func (f stubFactory) NewAdapter(creds Credentials) (Adapter, error) {
	if creds.SecretKey == "" {
		return nil, ErrInvalidConfig
	}
	return &mockAdapter{provider: f.name}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubFactory{name: " Stripe "}, nil, stubFactory{name: ""})
	assert.True(t, r.ProviderExists("stripe"))
	assert.False(t, r.ProviderExists("midtrans"))

	_, err := r.NewAdapter("midtrans", Credentials{SecretKey: "x"})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = r.NewAdapter("stripe", Credentials{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	a, err := r.NewAdapter("STRIPE", Credentials{SecretKey: "x"})
	require.NoError(t, err)
	assert.Equal(t, "stripe", a.Provider())
}
