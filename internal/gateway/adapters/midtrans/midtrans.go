package midtrans

import (
	"context"
	"fmt"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/smallbiznis/clinicbill/internal/gateway"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "midtrans"
}

func (f *Factory) NewAdapter(creds gateway.Credentials) (gateway.Adapter, error) {
	serverKey := strings.TrimSpace(creds.SecretKey)
	if serverKey == "" {
		return nil, gateway.ErrInvalidConfig
	}
	env := midtrans.Sandbox
	if creds.Production {
		env = midtrans.Production
	}
	return &Adapter{newClient: func(idempotencyKey string) coreClient {
		var client coreapi.Client
		client.New(serverKey, env)
		client.Options = &midtrans.ConfigOptions{}
		if idempotencyKey != "" {
			client.Options.SetPaymentIdempotencyKey(idempotencyKey)
		}
		return &client
	}}, nil
}

type coreClient interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error)
	RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error)
}

// Adapter uses the Midtrans Core API. Midtrans amounts are whole currency
// units, so minor amounts must be a multiple of 100.
type Adapter struct {
	newClient func(idempotencyKey string) coreClient
}

func (a *Adapter) Provider() string { return "midtrans" }

func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	gross, err := wholeUnits(req.AmountMinor)
	if err != nil {
		return gateway.Result{}, err
	}
	charge := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.IdempotencyKey,
			GrossAmt: gross,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.PaymentMethodToken,
		},
	}

	client := a.newClient(req.IdempotencyKey)
	return runBounded(ctx, func() (gateway.Result, error) {
		resp, merr := client.ChargeTransaction(charge)
		if merr != nil {
			return gateway.Result{}, fmt.Errorf("midtrans charge: %s", merr.Message)
		}
		return gateway.Result{ReferenceID: resp.TransactionID, Status: transactionStatus(resp.TransactionStatus)}, nil
	})
}

func (a *Adapter) CreateRefund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	amount, err := wholeUnits(req.AmountMinor)
	if err != nil {
		return gateway.Result{}, err
	}
	refund := &coreapi.RefundReq{
		RefundKey: req.IdempotencyKey,
		Amount:    amount,
		Reason:    req.Reason,
	}

	client := a.newClient(req.IdempotencyKey)
	return runBounded(ctx, func() (gateway.Result, error) {
		resp, merr := client.RefundTransaction(req.ChargeReferenceID, refund)
		if merr != nil {
			return gateway.Result{}, fmt.Errorf("midtrans refund: %s", merr.Message)
		}
		ref := resp.RefundKey
		if ref == "" {
			ref = req.IdempotencyKey
		}
		return gateway.Result{ReferenceID: ref, Status: transactionStatus(resp.TransactionStatus)}, nil
	})
}

// runBounded gives up waiting once ctx is done; the SDK call itself has
// no context parameter.
func runBounded(ctx context.Context, fn func() (gateway.Result, error)) (gateway.Result, error) {
	type outcome struct {
		res gateway.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn()
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return gateway.Result{}, ctx.Err()
	case out := <-done:
		return out.res, out.err
	}
}

func wholeUnits(minor int64) (int64, error) {
	if minor <= 0 || minor%100 != 0 {
		return 0, fmt.Errorf("%w: midtrans amount must be whole units, got %d minor", gateway.ErrInvalidRequest, minor)
	}
	return minor / 100, nil
}

func transactionStatus(status string) gateway.Status {
	switch strings.ToLower(status) {
	case "capture", "settlement", "refund", "partial_refund":
		return gateway.StatusSucceeded
	case "pending":
		return gateway.StatusProcessing
	case "authorize":
		return gateway.StatusRequiresAction
	default:
		return gateway.StatusFailed
	}
}
