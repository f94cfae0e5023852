package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name   string          `validate:"required"`
	Amount decimal.Decimal `validate:"money_positive"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "x", Amount: money.MustParse("1.00")}))

	err := Struct(sample{Name: "x", Amount: decimal.Zero})
	assert.ErrorIs(t, err, errs.New(errs.CodeValidation, ""))
	assert.Contains(t, err.Error(), "amount")

	err = Struct(sample{Amount: money.MustParse("1")})
	assert.Contains(t, err.Error(), "name failed required")
}
