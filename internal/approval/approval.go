// Package approval decides invoice lifecycle transitions.
package approval

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/risk"
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusPaid        Status = "PAID"
)

var ErrInvalidTransition = errors.New("invalid_transition")

// legal transitions. PAID is reached only through payment run completion;
// REJECTED and PAID are terminal.
var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusApproved, StatusUnderReview, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusPaid},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state-machine move. On an illegal move it returns
// ErrInvalidTransition and the caller must leave state untouched.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// Policy holds the auto-approval thresholds.
type Policy struct {
	// MaxRisk is exclusive: a score at or above it blocks auto-approval.
	MaxRisk int
	// MinHistory is exclusive: the payee needs more than this many
	// invoices on record.
	MinHistory int64
	// MaxAmount is exclusive: an amount at or above it blocks
	// auto-approval.
	MaxAmount decimal.Decimal
}

// DefaultPolicy mirrors the documented thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxRisk:    30,
		MinHistory: 10,
		MaxAmount:  decimal.NewFromInt(5000),
	}
}

// InitialStatus decides the intake state. Auto-approval requires all three
// conditions; anything else waits for a human in SUBMITTED.
func (p Policy) InitialStatus(assessment risk.Assessment, payeeInvoices int64, amount decimal.Decimal) Status {
	if assessment.Score < p.MaxRisk &&
		payeeInvoices > p.MinHistory &&
		amount.LessThan(p.MaxAmount) {
		return StatusApproved
	}
	return StatusSubmitted
}

// Terminal reports whether no further transitions exist from the status.
func Terminal(status Status) bool {
	return len(transitions[status]) == 0
}
