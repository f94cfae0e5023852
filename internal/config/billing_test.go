package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateBillingConfig(t *testing.T) {
	cfg := DefaultBillingConfig()
	assert.NoError(t, ValidateBillingConfig(cfg))
	assert.Equal(t, "500.00", cfg.ApprovalThreshold().StringFixed(2))

	bad := cfg
	bad.RefundApprovalThreshold = "abc"
	assert.Error(t, ValidateBillingConfig(bad))

	bad = cfg
	bad.GatewayTimeout = 0
	assert.Error(t, ValidateBillingConfig(bad))

	bad = cfg
	bad.Numbering.Refund = ""
	assert.Error(t, ValidateBillingConfig(bad))
}

func TestNewBillingConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`billing:
  currency: IDR
  refundApprovalThreshold: "100.00"
  gatewayProvider: midtrans
  gatewayTimeout: 3s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewBillingConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "IDR", cfg.Currency)
	assert.Equal(t, "midtrans", cfg.GatewayProvider)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "100.00", cfg.ApprovalThreshold().StringFixed(2))
	assert.Equal(t, DefaultBillingConfig().Numbering.Invoice, cfg.Numbering.Invoice)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *BillingConfigHolder
	assert.Equal(t, DefaultBillingConfig(), holder.Get())
}
