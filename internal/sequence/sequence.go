package sequence

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Scope names one counter: numbers are unique per clinic and name.
type Scope struct {
	ClinicID snowflake.ID
	Name     string
}

const (
	ScopeInvoice = "invoice"
	ScopePayment = "payment"
	ScopeRefund  = "refund"
)

// Sequencer hands out strictly increasing numbers per scope. Gaps are
// allowed; reuse is not.
type Sequencer interface {
	Next(ctx context.Context, scope Scope) (int64, error)
}

var (
	ErrInvalidScope = errors.New("invalid_sequence_scope")
	ErrContention   = errors.New("sequence_contention")
)

func (s Scope) valid() bool {
	return s.ClinicID != 0 && s.Name != ""
}
