package approval

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/risk"
	"github.com/stretchr/testify/assert"
)

func TestTransitionLegality(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusSubmitted, StatusApproved},
		{StatusSubmitted, StatusUnderReview},
		{StatusSubmitted, StatusRejected},
		{StatusUnderReview, StatusApproved},
		{StatusUnderReview, StatusRejected},
		{StatusApproved, StatusPaid},
	}
	for _, tc := range legal {
		assert.NoError(t, Transition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to Status }{
		{StatusSubmitted, StatusPaid},
		{StatusUnderReview, StatusPaid},
		{StatusApproved, StatusRejected},
		{StatusApproved, StatusUnderReview},
		{StatusRejected, StatusApproved},
		{StatusRejected, StatusSubmitted},
		{StatusPaid, StatusApproved},
		{StatusPaid, StatusRejected},
	}
	for _, tc := range illegal {
		assert.ErrorIs(t, Transition(tc.from, tc.to), ErrInvalidTransition,
			"%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StatusRejected))
	assert.True(t, Terminal(StatusPaid))
	assert.False(t, Terminal(StatusSubmitted))
	assert.False(t, Terminal(StatusUnderReview))
	assert.False(t, Terminal(StatusApproved))
}

func TestInitialStatusAutoApproval(t *testing.T) {
	policy := DefaultPolicy()
	low := risk.Assessment{Score: 10, Level: risk.LevelLow}

	assert.Equal(t, StatusApproved,
		policy.InitialStatus(low, 11, decimal.RequireFromString("4999.99")))

	// Each threshold is exclusive on its boundary.
	assert.Equal(t, StatusSubmitted,
		policy.InitialStatus(risk.Assessment{Score: 30}, 11, decimal.NewFromInt(100)))
	assert.Equal(t, StatusApproved,
		policy.InitialStatus(risk.Assessment{Score: 29}, 11, decimal.NewFromInt(100)))

	assert.Equal(t, StatusSubmitted, policy.InitialStatus(low, 10, decimal.NewFromInt(100)))
	assert.Equal(t, StatusApproved, policy.InitialStatus(low, 11, decimal.NewFromInt(100)))

	assert.Equal(t, StatusSubmitted,
		policy.InitialStatus(low, 11, decimal.NewFromInt(5000)))
	assert.Equal(t, StatusSubmitted,
		policy.InitialStatus(low, 11, decimal.RequireFromString("5000.01")))
}
