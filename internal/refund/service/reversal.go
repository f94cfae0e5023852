package service

import (
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/clinicbill/internal/payment/domain"
	"github.com/smallbiznis/clinicbill/pkg/money"
)

// proportionalReversals returns how much to reverse on each allocation so
// that, after this refund, the allocations carry their share of the total
// refunded so far. Each allocation's cumulative target is rounded to cents
// with the rounding remainder on the last allocation; the amount already
// reversed is subtracted from the target. A fully refunded payment reverses
// every allocation completely. No share exceeds what is still applied.
func proportionalReversals(allocations []*paymentdomain.PaymentAllocation, refunded, paymentAmount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(allocations))
	if len(allocations) == 0 || !paymentAmount.IsPositive() {
		return shares
	}

	if refunded.GreaterThanOrEqual(paymentAmount) {
		for i, a := range allocations {
			shares[i] = money.Max(a.Net(), decimal.Zero)
		}
		return shares
	}

	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	total := money.Round(allocated.Mul(refunded).Div(paymentAmount))

	targeted := decimal.Zero
	last := len(allocations) - 1
	for i, a := range allocations {
		var target decimal.Decimal
		if i == last {
			target = total.Sub(targeted)
		} else {
			target = money.Round(a.Amount.Mul(refunded).Div(paymentAmount))
		}
		targeted = targeted.Add(target)
		shares[i] = money.Min(money.Max(target.Sub(a.ReversedAmount), decimal.Zero), a.Net())
	}
	return shares
}
