package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig holds the tunables of the billing core. It is read from
// billing.yml and hot-reloaded on change.
type BillingConfig struct {
	Currency string `mapstructure:"currency"`
	// Refunds at or above this amount wait for manual approval.
	RefundApprovalThreshold string          `mapstructure:"refundApprovalThreshold"`
	GatewayProvider         string          `mapstructure:"gatewayProvider"`
	GatewayTimeout          time.Duration   `mapstructure:"gatewayTimeout"`
	Numbering               NumberingConfig `mapstructure:"numbering"`
}

type NumberingConfig struct {
	Invoice string `mapstructure:"invoice"`
	Payment string `mapstructure:"payment"`
	Refund  string `mapstructure:"refund"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:                "USD",
		RefundApprovalThreshold: "500.00",
		GatewayProvider:         "stripe",
		GatewayTimeout:          10 * time.Second,
		Numbering: NumberingConfig{
			Invoice: "INV-{YYYY}{MM}-{SEQ6}",
			Payment: "PAY-{YYYY}{MM}-{SEQ6}",
			Refund:  "REF-{YYYY}{MM}-{SEQ6}",
		},
	}
}

// ApprovalThreshold returns the parsed refund approval threshold.
func (c BillingConfig) ApprovalThreshold() decimal.Decimal {
	d, err := money.Parse(c.RefundApprovalThreshold)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clinicbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLINICBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.refundApprovalThreshold", defaults.RefundApprovalThreshold)
	v.SetDefault("billing.gatewayProvider", defaults.GatewayProvider)
	v.SetDefault("billing.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("billing.numbering.invoice", defaults.Numbering.Invoice)
	v.SetDefault("billing.numbering.payment", defaults.Numbering.Payment)
	v.SetDefault("billing.numbering.refund", defaults.Numbering.Refund)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := ValidateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	threshold, err := money.Parse(cfg.RefundApprovalThreshold)
	if err != nil {
		return fmt.Errorf("billing.refundApprovalThreshold: %w", err)
	}
	if threshold.IsNegative() {
		return errors.New("billing.refundApprovalThreshold cannot be negative")
	}
	if cfg.GatewayTimeout <= 0 {
		return errors.New("billing.gatewayTimeout must be positive")
	}
	if cfg.Numbering.Invoice == "" || cfg.Numbering.Payment == "" || cfg.Numbering.Refund == "" {
		return errors.New("billing.numbering templates cannot be empty")
	}
	return nil
}
