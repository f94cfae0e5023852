package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/clinicbill/internal/account/domain"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/clinicbill/internal/observability/logger"
	obstracing "github.com/smallbiznis/clinicbill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/clinicbill/internal/payment/domain"
	refunddomain "github.com/smallbiznis/clinicbill/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	clock      clock.Clock
	accountSvc accountdomain.Service
	invoiceSvc invoicedomain.Service
	paymentSvc paymentdomain.Service
	creditSvc  creditdomain.Service
	refundSvc  refunddomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Clock      clock.Clock
	AccountSvc accountdomain.Service
	InvoiceSvc invoicedomain.Service
	PaymentSvc paymentdomain.Service
	CreditSvc  creditdomain.Service
	RefundSvc  refunddomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		clock:      p.Clock,
		accountSvc: p.AccountSvc,
		invoiceSvc: p.InvoiceSvc,
		paymentSvc: p.PaymentSvc,
		creditSvc:  p.CreditSvc,
		refundSvc:  p.RefundSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(ClinicContext())

	// -------- Accounts --------
	api.POST("/accounts", s.CreateAccount)
	api.GET("/accounts/:id", s.GetAccount)
	api.POST("/accounts/:id/disable", s.DisableAccount)
	api.GET("/accounts/:id/credits", s.ListAccountCredits)

	// -------- Invoices --------
	api.POST("/invoices", s.CreateInvoice)
	api.POST("/invoices/mark-overdue", s.MarkOverdueInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.PATCH("/invoices/:id", s.UpdateInvoice)
	api.POST("/invoices/:id/adjustments", s.AdjustInvoice)

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.GET("/payments/:id", s.GetPayment)
	api.GET("/payments/:id/allocations", s.ListPaymentAllocations)
	api.POST("/payments/:id/complete", s.CompletePayment)
	api.POST("/payments/:id/fail", s.FailPayment)

	// -------- Credits --------
	api.POST("/credits", s.CreateCredit)
	api.GET("/credits/:id", s.GetCredit)
	api.POST("/credits/:id/apply", s.ApplyCredit)
	api.POST("/credits/:id/transfer", s.TransferCredit)

	// -------- Refunds --------
	api.POST("/refunds", s.RequestRefund)
	api.GET("/refunds/:id", s.GetRefund)
	api.POST("/refunds/:id/approve", s.ApproveRefund)
	api.POST("/refunds/:id/decline", s.DeclineRefund)
	api.POST("/refunds/:id/complete", s.CompleteRefund)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound)
	})
}
