// Package tax computes Construction Industry Scheme deductions.
package tax

import (
	"github.com/shopspring/decimal"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
)

// Deduction is the result of applying a payee's CIS rate to a gross amount.
type Deduction struct {
	// Rate is the integer percent withheld.
	Rate int
	// CISDeduction is the withheld amount, rounded half-up to 2dp.
	CISDeduction decimal.Decimal
	// NetPayment is amount minus CISDeduction. Never re-rounded.
	NetPayment decimal.Decimal
}

// Compute derives the CIS deduction for a gross amount. GROSS payees are
// withheld at 0%, HIGHER at 30%, STANDARD and NOT_VERIFIED at 20%, unless
// the payee carries an explicit override rate.
//
// Rounding happens exactly once, on the deduction: half-up to the minor
// currency unit. The net payment is the exact remainder so that
// net + deduction == amount always holds. The function is pure; identical
// inputs yield identical outputs.
func Compute(amount decimal.Decimal, sub subdomain.Subcontractor) Deduction {
	rate := sub.DeductionRate()

	// decimal.Round is half away from zero, which is half-up for the
	// non-negative amounts handled here.
	deduction := amount.
		Mul(decimal.NewFromInt(int64(rate))).
		Div(decimal.NewFromInt(100)).
		Round(2)

	return Deduction{
		Rate:         rate,
		CISDeduction: deduction,
		NetPayment:   amount.Sub(deduction),
	}
}
