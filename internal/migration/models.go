package migration

import (
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/clinicbill/internal/payment/domain"
	refunddomain "github.com/smallbiznis/clinicbill/internal/refund/domain"
	"github.com/smallbiznis/clinicbill/internal/sequence"
)

// Models lists every table the billing core owns.
func Models() []any {
	return []any{
		&accountdomain.PatientAccount{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceAdjustment{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentAllocation{},
		&creditdomain.CreditBalance{},
		&creditdomain.CreditApplication{},
		&refunddomain.Refund{},
		&refunddomain.RefundReversal{},
		&sequence.BillingSequence{},
		&auditdomain.AuditLog{},
	}
}
