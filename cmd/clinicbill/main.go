package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbill/internal/account"
	"github.com/smallbiznis/clinicbill/internal/audit"
	"github.com/smallbiznis/clinicbill/internal/authorization"
	"github.com/smallbiznis/clinicbill/internal/balance"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	"github.com/smallbiznis/clinicbill/internal/credit"
	"github.com/smallbiznis/clinicbill/internal/gateway/adapters"
	"github.com/smallbiznis/clinicbill/internal/invoice"
	invoicedomain "github.com/smallbiznis/clinicbill/internal/invoice/domain"
	"github.com/smallbiznis/clinicbill/internal/logger"
	"github.com/smallbiznis/clinicbill/internal/migration"
	"github.com/smallbiznis/clinicbill/internal/observability"
	"github.com/smallbiznis/clinicbill/internal/orgcontext"
	"github.com/smallbiznis/clinicbill/internal/payment"
	"github.com/smallbiznis/clinicbill/internal/refund"
	"github.com/smallbiznis/clinicbill/internal/sequence"
	"github.com/smallbiznis/clinicbill/internal/server"
	"github.com/smallbiznis/clinicbill/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "clinicbill",
		Short:   "Clinic billing ledger and payment reconciliation",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(markOverdueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// infra is shared by every command that touches the database.
func infra() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// billing wires the domain services on top of infra.
func billing() fx.Option {
	return fx.Options(
		sequence.Module,
		adapters.Module,
		audit.Module,
		authorization.Module,
		balance.Module,
		account.Module,
		invoice.Module,
		payment.Module,
		credit.Module,
		refund.Module,
	)
}

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the billing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{infra(), billing(), server.Module}
			if !skipMigrate {
				opts = append(opts, migration.Module)
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply schema migrations on startup")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), fx.Options(infra(), migration.Module, lifecycleLogger("migrate")))
		},
	}
}

func markOverdueCmd() *cobra.Command {
	var (
		clinic string
		asOf   string
	)
	cmd := &cobra.Command{
		Use:   "mark-overdue",
		Short: "Move past-due open invoices of a clinic to OVERDUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID, err := snowflake.ParseString(clinic)
			if err != nil || clinicID == 0 {
				return fmt.Errorf("invalid --clinic %q", clinic)
			}

			var (
				invoiceSvc invoicedomain.Service
				clk        clock.Clock
				log        *zap.Logger
			)
			app := fx.New(
				infra(),
				billing(),
				fx.Populate(&invoiceSvc, &clk, &log),
				lifecycleLogger("mark-overdue"),
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = app.Stop(stopCtx)
			}()

			at := clk.Now()
			if asOf != "" {
				at, err = time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
			}

			ctx = orgcontext.WithClinicID(ctx, clinicID)
			ctx = orgcontext.WithActor(ctx, orgcontext.Actor{ID: "system:overdue-sweep", Role: "system"})
			count, err := invoiceSvc.MarkOverdue(ctx, clinicID, at)
			if err != nil {
				return err
			}
			log.Info("overdue sweep finished",
				zap.String("clinic_id", clinicID.String()),
				zap.Time("as_of", at),
				zap.Int("marked", count),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinic, "clinic", "", "Clinic id to sweep")
	cmd.Flags().StringVar(&asOf, "as-of", "", "RFC3339 instant; defaults to now")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func runOnce(ctx context.Context, opts fx.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return app.Stop(stopCtx)
}

// lifecycleLogger keeps one-shot commands quiet unless fx itself fails.
func lifecycleLogger(command string) fx.Option {
	cliLog, err := logger.New("warn", zap.String("command", command))
	if err != nil {
		return fx.NopLogger
	}
	return fx.WithLogger(func() fxevent.Logger {
		return &fxevent.ZapLogger{Logger: cliLog}
	})
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
