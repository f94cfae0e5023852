// Package gatewaytest provides an in-memory Gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/clinicbill/internal/gateway"
)

type Fake struct {
	mu sync.Mutex

	Provider     string
	ChargeStatus gateway.Status
	ChargeErr    error
	RefundStatus gateway.Status
	RefundErr    error

	// OnRefund runs after each refund call is recorded, outside the lock.
	OnRefund func(gateway.RefundRequest)

	Charges []gateway.ChargeRequest
	Refunds []gateway.RefundRequest
}

// New returns a fake whose calls succeed immediately.
func New() *Fake {
	return &Fake{
		Provider:     "fake",
		ChargeStatus: gateway.StatusSucceeded,
		RefundStatus: gateway.StatusSucceeded,
	}
}

func (f *Fake) DefaultProvider() string { return f.Provider }

func (f *Fake) Charge(ctx context.Context, provider string, req gateway.ChargeRequest) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Charges = append(f.Charges, req)
	if f.ChargeErr != nil {
		return gateway.Result{}, f.ChargeErr
	}
	return gateway.Result{ReferenceID: fmt.Sprintf("ch_%d", len(f.Charges)), Status: f.ChargeStatus}, nil
}

func (f *Fake) Refund(ctx context.Context, provider string, req gateway.RefundRequest) (gateway.Result, error) {
	f.mu.Lock()
	f.Refunds = append(f.Refunds, req)
	res := gateway.Result{ReferenceID: fmt.Sprintf("re_%d", len(f.Refunds)), Status: f.RefundStatus}
	err := f.RefundErr
	hook := f.OnRefund
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return gateway.Result{}, err
	}
	return res, nil
}

func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Charges)
}

func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}

var _ gateway.Gateway = (*Fake)(nil)
