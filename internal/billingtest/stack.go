// Package billingtest assembles the billing services over an in-memory
// sqlite database for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	accountrepo "github.com/smallbiznis/clinicbill/internal/account/repository"
	accountservice "github.com/smallbiznis/clinicbill/internal/account/service"
	auditdomain "github.com/smallbiznis/clinicbill/internal/audit/domain"
	auditrepo "github.com/smallbiznis/clinicbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/clinicbill/internal/audit/service"
	"github.com/smallbiznis/clinicbill/internal/authorization"
	"github.com/smallbiznis/clinicbill/internal/balance"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
	creditrepo "github.com/smallbiznis/clinicbill/internal/credit/repository"
	creditservice "github.com/smallbiznis/clinicbill/internal/credit/service"
	"github.com/smallbiznis/clinicbill/internal/gateway/gatewaytest"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/clinicbill/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/clinicbill/internal/invoice/service"
	"github.com/smallbiznis/clinicbill/internal/migration"
	obsmetrics "github.com/smallbiznis/clinicbill/internal/observability/metrics"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/clinicbill/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/clinicbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/clinicbill/internal/payment/service"
	refunddomain "github.com/smallbiznis/clinicbill/internal/refund/domain"
	refundrepo "github.com/smallbiznis/clinicbill/internal/refund/repository"
	refundservice "github.com/smallbiznis/clinicbill/internal/refund/service"
	"github.com/smallbiznis/clinicbill/internal/sequence"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory database with the billing schema.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:billing_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(migration.Models()...))
	return db
}

type Stack struct {
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Billing  *config.BillingConfigHolder
	Gateway  *gatewaytest.Fake
	ClinicID snowflake.ID

	Audit      auditdomain.Service
	Accounts   accountdomain.Service
	Invoices   invoicedomain.Service
	Payments   paymentdomain.Service
	Credits    creditdomain.Service
	Refunds    refunddomain.Service
	Aggregator balance.Aggregator
}

type options struct {
	billing config.BillingConfig
	log     *zap.Logger
}

type Option func(*options)

// WithThreshold sets the refund approval threshold.
func WithThreshold(amount string) Option {
	return func(o *options) { o.billing.RefundApprovalThreshold = amount }
}

// WithLogger hands log to every service instead of a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func NewStack(t testing.TB, opts ...Option) *Stack {
	t.Helper()

	o := options{billing: config.DefaultBillingConfig(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.billing

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Stack{
		DB:      NewDB(t),
		Node:    node,
		Clock:   clock.NewFakeClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)),
		Billing: config.NewStaticBillingConfigHolder(cfg),
		Gateway: gatewaytest.New(),
	}
	s.ClinicID = node.Generate()

	log := o.log
	metrics := obsmetrics.NewNoop()
	seq := sequence.NewDBSequencer(s.DB, log, s.Clock)

	s.Audit = auditservice.NewService(auditservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock, Repo: auditrepo.Provide(),
	})
	s.Aggregator = balance.NewAggregator(balance.Params{Log: log, Clock: s.Clock})
	s.Accounts = accountservice.NewService(accountservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock,
		Repo: accountrepo.Provide(), AuditSvc: s.Audit,
	})
	s.Invoices = invoiceservice.NewService(invoiceservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock, Billing: s.Billing,
		Sequencer: seq, Repo: invoicerepo.Provide(), AccountSvc: s.Accounts,
		Aggregator: s.Aggregator, AuditSvc: s.Audit,
	})
	paymentRepo := paymentrepo.Provide()
	s.Payments = paymentservice.NewService(paymentservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock, Billing: s.Billing,
		Sequencer: seq, Gateway: s.Gateway, Repo: paymentRepo,
		AccountSvc: s.Accounts, InvoiceSvc: s.Invoices, Aggregator: s.Aggregator,
		AuditSvc: s.Audit, ObsMetrics: metrics,
	})
	s.Credits = creditservice.NewService(creditservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock, Repo: creditrepo.Provide(),
		AccountSvc: s.Accounts, InvoiceSvc: s.Invoices, Aggregator: s.Aggregator,
		AuditSvc: s.Audit, ObsMetrics: metrics,
	})

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: s.Audit})
	s.Refunds = refundservice.NewService(refundservice.Params{
		DB: s.DB, Log: log, GenID: node, Clock: s.Clock, Billing: s.Billing,
		Sequencer: seq, Gateway: s.Gateway, Repo: refundrepo.Provide(),
		PaymentRepo: paymentRepo, InvoiceSvc: s.Invoices, Aggregator: s.Aggregator,
		AuditSvc: s.Audit, Authz: authz, ObsMetrics: metrics,
	})
	return s
}

// Manager returns a context carrying an actor allowed to approve refunds.
func (s *Stack) Manager() context.Context {
	return orgcontext.WithActor(context.Background(), orgcontext.Actor{ID: "user-1", Role: "billing_manager"})
}

func (s *Stack) Account(t testing.TB) *accountdomain.PatientAccount {
	t.Helper()
	account, err := s.Accounts.CreateAccount(context.Background(), accountdomain.CreateAccountRequest{
		ClinicID:    s.ClinicID,
		PatientRef:  "P-" + s.Node.Generate().String(),
		DisplayName: "Test Patient",
	})
	require.NoError(t, err)
	return account
}

// Invoice creates a PENDING invoice with one line per amount.
func (s *Stack) Invoice(t testing.TB, accountID snowflake.ID, amounts ...string) *invoicedomain.Invoice {
	t.Helper()
	items := make([]invoicedomain.ItemInput, 0, len(amounts))
	for i, a := range amounts {
		items = append(items, invoicedomain.ItemInput{
			Description: fmt.Sprintf("Consultation %d", i+1),
			Quantity:    1,
			UnitPrice:   money.MustParse(a),
			Discount:    decimal.Zero,
		})
	}
	invoice, err := s.Invoices.CreateInvoice(context.Background(), invoicedomain.CreateInvoiceRequest{
		ClinicID:  s.ClinicID,
		AccountID: accountID,
		Items:     items,
	})
	require.NoError(t, err)
	return invoice
}

// Pay records a cash payment allocated as given (invoice, amount pairs).
func (s *Stack) Pay(t testing.TB, accountID snowflake.ID, amount string, allocations ...paymentdomain.AllocationInput) *paymentdomain.Payment {
	t.Helper()
	payment, err := s.Payments.CreatePayment(context.Background(), paymentdomain.CreatePaymentRequest{
		ClinicID:    s.ClinicID,
		AccountID:   accountID,
		Amount:      money.MustParse(amount),
		MethodType:  paymentdomain.MethodCash,
		Allocations: allocations,
	})
	require.NoError(t, err)
	return payment
}

func Alloc(invoiceID snowflake.ID, amount string) paymentdomain.AllocationInput {
	return paymentdomain.AllocationInput{InvoiceID: invoiceID, Amount: money.MustParse(amount)}
}

func (s *Stack) ReloadInvoice(t testing.TB, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := s.Invoices.GetInvoice(context.Background(), s.ClinicID, id)
	require.NoError(t, err)
	return invoice
}

func (s *Stack) ReloadAccount(t testing.TB, id snowflake.ID) *accountdomain.PatientAccount {
	t.Helper()
	account, err := s.Accounts.GetAccount(context.Background(), s.ClinicID, id)
	require.NoError(t, err)
	return account
}

func (s *Stack) ReloadPayment(t testing.TB, id snowflake.ID) *paymentdomain.Payment {
	t.Helper()
	payment, err := s.Payments.GetPayment(context.Background(), s.ClinicID, id)
	require.NoError(t, err)
	return payment
}

// RequireInvoiceConsistent checks the invoice balance and status rules.
func RequireInvoiceConsistent(t testing.TB, invoice *invoicedomain.Invoice) {
	t.Helper()
	require.Equal(t, money.Format(invoice.ExpectedBalance()), money.Format(invoice.Balance), "balance")
	if invoice.Status == invoicedomain.InvoiceStatusDraft || invoice.Status == invoicedomain.InvoiceStatusCancelled {
		return
	}
	require.Equal(t, invoice.Balance.IsZero(), invoice.Status == invoicedomain.InvoiceStatusPaid, "status %s", invoice.Status)
}
