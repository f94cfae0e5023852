// Package validate wraps go-playground/validator for billing request structs
// and converts failures into VALIDATION_ERROR.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"github.com/smallbiznis/clinicbill/pkg/money"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with the money tags registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// decimals are validated through their string form
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})
		_ = v.RegisterValidation("money_positive", func(fl validator.FieldLevel) bool {
			d, err := money.Parse(fl.Field().String())
			return err == nil && d.IsPositive()
		})
		_ = v.RegisterValidation("money_nonneg", func(fl validator.FieldLevel) bool {
			d, err := money.Parse(fl.Field().String())
			return err == nil && !d.IsNegative()
		})
		instance = v
	})
	return instance
}

// Struct validates req and returns a coded validation error naming the
// first failing field.
func Struct(req any) error {
	err := Validator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errs.Newf(errs.CodeValidation, "%s failed %s", fieldName(fe.Namespace()), fe.Tag())
	}
	return errs.Wrap(errs.CodeValidation, "invalid request", err)
}

func fieldName(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return toSnake(namespace)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '.' && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Invalid builds a VALIDATION_ERROR for a hand-checked rule.
func Invalid(field, format string, args ...any) error {
	return errs.Newf(errs.CodeValidation, "%s: %s", field, fmt.Sprintf(format, args...))
}
