package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/clinicbill/internal/config"
	obsmetrics "github.com/smallbiznis/clinicbill/internal/observability/metrics"
	"github.com/smallbiznis/clinicbill/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Gateway is what the payment and refund services call. The provider is
// chosen per call so a refund follows the processor of its payment.
type Gateway interface {
	DefaultProvider() string
	Charge(ctx context.Context, provider string, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, provider string, req RefundRequest) (Result, error)
}

type DispatcherParams struct {
	fx.In

	Config     config.Config
	Billing    *config.BillingConfigHolder
	Registry   *Registry
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher routes calls to configured adapters and bounds each call by
// the billing gateway timeout.
type Dispatcher struct {
	adapters   map[string]Adapter
	billing    *config.BillingConfigHolder
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	creds := map[string]Credentials{
		"stripe": {
			SecretKey: p.Config.Gateway.StripeSecretKey,
			AccountID: p.Config.Gateway.StripeAccountID,
		},
		"midtrans": {
			SecretKey:  p.Config.Gateway.MidtransServerKey,
			Production: p.Config.Gateway.MidtransProduction,
		},
	}

	d := &Dispatcher{
		adapters:   map[string]Adapter{},
		billing:    p.Billing,
		log:        p.Log.Named("gateway"),
		obsMetrics: p.ObsMetrics,
	}
	for provider, cred := range creds {
		if cred.SecretKey == "" || !p.Registry.ProviderExists(provider) {
			continue
		}
		adapter, err := p.Registry.NewAdapter(provider, cred)
		if err != nil {
			return nil, err
		}
		d.adapters[provider] = adapter
	}
	return d, nil
}

// NewStaticDispatcher wires explicit adapters, for tests and tools.
func NewStaticDispatcher(billing *config.BillingConfigHolder, log *zap.Logger, adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{adapters: map[string]Adapter{}, billing: billing, log: log.Named("gateway")}
	for _, adapter := range adapters {
		d.adapters[normalize(adapter.Provider())] = adapter
	}
	return d
}

func (d *Dispatcher) DefaultProvider() string {
	return normalize(d.billing.Get().GatewayProvider)
}

func (d *Dispatcher) Charge(ctx context.Context, provider string, req ChargeRequest) (Result, error) {
	adapter, err := d.adapter(provider)
	if err != nil {
		return Result{}, err
	}
	if req.AmountMinor <= 0 || req.IdempotencyKey == "" {
		return Result{}, ErrInvalidRequest
	}
	if cid := correlation.FromContext(ctx); cid != "" {
		meta := make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta["correlation_id"] = cid
		req.Metadata = meta
	}
	return d.call(ctx, adapter, "charge", func(ctx context.Context) (Result, error) {
		return adapter.CreateCharge(ctx, req)
	})
}

func (d *Dispatcher) Refund(ctx context.Context, provider string, req RefundRequest) (Result, error) {
	adapter, err := d.adapter(provider)
	if err != nil {
		return Result{}, err
	}
	if req.AmountMinor <= 0 || req.IdempotencyKey == "" || req.ChargeReferenceID == "" {
		return Result{}, ErrInvalidRequest
	}
	return d.call(ctx, adapter, "refund", func(ctx context.Context) (Result, error) {
		return adapter.CreateRefund(ctx, req)
	})
}

func (d *Dispatcher) adapter(provider string) (Adapter, error) {
	if provider == "" {
		provider = d.DefaultProvider()
	}
	adapter, ok := d.adapters[normalize(provider)]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return adapter, nil
}

func (d *Dispatcher) call(ctx context.Context, adapter Adapter, operation string, fn func(context.Context) (Result, error)) (Result, error) {
	timeout := d.billing.Get().GatewayTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := fn(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	elapsed := time.Since(start)

	outcome := string(res.Status)
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		d.log.Warn("gateway call failed",
			zap.String("provider", adapter.Provider()),
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
	d.obsMetrics.RecordGatewayCall(ctx, adapter.Provider(), operation, outcome, elapsed)
	return res, err
}
