package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "ch_****", MaskSecret("ch_abc"))
	assert.Equal(t, "pi_****7890", MaskSecret("pi_1234567890"))
	assert.Equal(t, "****WXYZ", MaskSecret("ABCDWXYZ"))
}

func TestMaskDetailsOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskDetails(map[string]any{
		"amount":               "150.00",
		"gateway_reference_id": "pi_1234567890",
		"nested":               map[string]any{"idempotency_key": "pay_abcdef123456"},
		"":                     "dropped",
	})
	assert.Equal(t, "150.00", out["amount"])
	assert.Equal(t, "pi_****7890", out["gateway_reference_id"])
	assert.Equal(t, map[string]any{"idempotency_key": "pay_****3456"}, out["nested"])
	assert.NotContains(t, out, "")
	assert.Nil(t, MaskDetails(nil))
}
