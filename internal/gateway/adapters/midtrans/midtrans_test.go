package midtrans

import (
	"context"
	"testing"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/smallbiznis/clinicbill/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	charge   *coreapi.ChargeReq
	refundID string
	refund   *coreapi.RefundReq
	status   string
	fail     *midtrans.Error
	delay    time.Duration
}

func (f *fakeCore) ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error) {
	time.Sleep(f.delay)
	f.charge = req
	if f.fail != nil {
		return nil, f.fail
	}
	return &coreapi.ChargeResponse{TransactionID: "tx-1", TransactionStatus: f.status}, nil
}

func (f *fakeCore) RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error) {
	f.refundID = param
	f.refund = req
	if f.fail != nil {
		return nil, f.fail
	}
	return &coreapi.RefundResponse{RefundKey: req.RefundKey, TransactionStatus: f.status}, nil
}

func adapterWith(core *fakeCore, keys *[]string) *Adapter {
	return &Adapter{newClient: func(key string) coreClient {
		*keys = append(*keys, key)
		return core
	}}
}

func TestCreateChargeUsesWholeUnitsAndIdempotencyKey(t *testing.T) {
	core := &fakeCore{status: "capture"}
	var keys []string
	res, err := adapterWith(core, &keys).CreateCharge(context.Background(), gateway.ChargeRequest{
		AmountMinor:        150000,
		IdempotencyKey:     "pay_1",
		PaymentMethodToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.Result{ReferenceID: "tx-1", Status: gateway.StatusSucceeded}, res)
	assert.Equal(t, int64(1500), core.charge.TransactionDetails.GrossAmt)
	assert.Equal(t, "tok", core.charge.CreditCard.TokenID)
	assert.Equal(t, []string{"pay_1"}, keys)
}

func TestCreateChargeRejectsFractionalUnits(t *testing.T) {
	var keys []string
	_, err := adapterWith(&fakeCore{}, &keys).CreateCharge(context.Background(), gateway.ChargeRequest{AmountMinor: 150050, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
	assert.Empty(t, keys)
}

func TestCreateChargeSurfacesSDKError(t *testing.T) {
	var keys []string
	core := &fakeCore{fail: &midtrans.Error{Message: "denied"}}
	_, err := adapterWith(core, &keys).CreateCharge(context.Background(), gateway.ChargeRequest{AmountMinor: 100, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestCreateChargeHonorsContextDeadline(t *testing.T) {
	var keys []string
	core := &fakeCore{status: "capture", delay: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := adapterWith(core, &keys).CreateCharge(ctx, gateway.ChargeRequest{AmountMinor: 100, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateRefund(t *testing.T) {
	core := &fakeCore{status: "pending"}
	var keys []string
	res, err := adapterWith(core, &keys).CreateRefund(context.Background(), gateway.RefundRequest{
		ChargeReferenceID: "tx-1", AmountMinor: 5000, IdempotencyKey: "ref_1", Reason: "duplicate",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusProcessing, res.Status)
	assert.Equal(t, "ref_1", res.ReferenceID)
	assert.Equal(t, "tx-1", core.refundID)
	assert.Equal(t, int64(50), core.refund.Amount)
}
