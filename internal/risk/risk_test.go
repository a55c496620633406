package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() Input {
	return Input{
		InvoiceNumber:     "INV-100",
		Amount:            decimal.NewFromInt(500),
		InvoiceDate:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Confidence:        0.95,
		SubcontractorName: "Drylining Ltd",
		PriorInvoices: []PriorInvoice{
			{InvoiceNumber: "INV-001", Amount: decimal.NewFromInt(480), InvoiceDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
			{InvoiceNumber: "INV-002", Amount: decimal.NewFromInt(510), InvoiceDate: time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)},
			{InvoiceNumber: "INV-003", Amount: decimal.NewFromInt(495), InvoiceDate: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func flagTypes(flags []Flag) []string {
	types := make([]string, 0, len(flags))
	for _, f := range flags {
		types = append(types, f.Type)
	}
	return types
}

func TestScoreCleanInvoice(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	got := scorer.Score(baseInput())

	assert.Empty(t, got.Flags)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, LevelLow, got.Level)
}

func TestScoreDuplicateInvoiceNumber(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.InvoiceNumber = "inv-002"

	got := scorer.Score(in)
	assert.Contains(t, flagTypes(got.Flags), FlagDuplicateInvoiceNumber)

	for _, f := range got.Flags {
		if f.Type == FlagDuplicateInvoiceNumber {
			assert.Equal(t, SeverityHigh, f.Severity)
		}
	}
	assert.Equal(t, LevelMedium, got.Level)
}

func TestScoreDuplicateAmountSameWeek(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.PriorInvoices = append(in.PriorInvoices, PriorInvoice{
		InvoiceNumber: "INV-004",
		Amount:        in.Amount,
		// Same ISO week as the incoming invoice date.
		InvoiceDate: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	})

	got := scorer.Score(in)
	require.Contains(t, flagTypes(got.Flags), FlagDuplicateAmount)
	for _, f := range got.Flags {
		if f.Type == FlagDuplicateAmount {
			assert.Equal(t, SeverityHigh, f.Severity)
		}
	}
}

func TestScoreSameAmountDifferentWeekIsClean(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.PriorInvoices = append(in.PriorInvoices, PriorInvoice{
		InvoiceNumber: "INV-004",
		Amount:        in.Amount,
		InvoiceDate:   time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC),
	})

	got := scorer.Score(in)
	assert.NotContains(t, flagTypes(got.Flags), FlagDuplicateAmount)
}

func TestScorePriceDeviation(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	// Trailing average is 495; anything above 990 trips the rule.
	in.Amount = decimal.RequireFromString("990.01")

	got := scorer.Score(in)
	require.Contains(t, flagTypes(got.Flags), FlagPriceDeviation)
	for _, f := range got.Flags {
		if f.Type == FlagPriceDeviation {
			assert.Equal(t, SeverityMedium, f.Severity)
		}
	}

	// Exactly at the ceiling does not trip.
	in.Amount = decimal.NewFromInt(990)
	got = scorer.Score(in)
	assert.NotContains(t, flagTypes(got.Flags), FlagPriceDeviation)
}

func TestScorePriceDeviationNeedsHistory(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.PriorInvoices = in.PriorInvoices[:2]
	in.Amount = decimal.NewFromInt(50000)

	got := scorer.Score(in)
	assert.NotContains(t, flagTypes(got.Flags), FlagPriceDeviation)
}

func TestScoreBudgetOverrun(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.Project = &ProjectBudget{
		Name:            "Riverside",
		Budget:          decimal.NewFromInt(1000),
		AlreadyInvoiced: decimal.NewFromInt(600),
	}

	got := scorer.Score(in)
	require.Contains(t, flagTypes(got.Flags), FlagBudgetOverrun)
	for _, f := range got.Flags {
		if f.Type == FlagBudgetOverrun {
			assert.Equal(t, SeverityHigh, f.Severity)
		}
	}

	// Exactly on budget is fine.
	in.Project.AlreadyInvoiced = decimal.NewFromInt(500)
	got = scorer.Score(in)
	assert.NotContains(t, flagTypes(got.Flags), FlagBudgetOverrun)
}

func TestScoreNewPayee(t *testing.T) {
	scorer := NewScorer(DefaultConfig())

	in := baseInput()
	in.PriorInvoices = in.PriorInvoices[:1]
	got := scorer.Score(in)
	require.Contains(t, flagTypes(got.Flags), FlagNewPayee)
	for _, f := range got.Flags {
		if f.Type == FlagNewPayee {
			assert.Equal(t, SeverityLow, f.Severity)
		}
	}

	// An unknown payee escalates to MEDIUM.
	in.PriorInvoices = nil
	got = scorer.Score(in)
	for _, f := range got.Flags {
		if f.Type == FlagNewPayee {
			assert.Equal(t, SeverityMedium, f.Severity)
		}
	}
}

func TestScoreLowConfidence(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.Confidence = 0.69

	got := scorer.Score(in)
	require.Contains(t, flagTypes(got.Flags), FlagLowConfidence)

	in.Confidence = 0.7
	got = scorer.Score(in)
	assert.NotContains(t, flagTypes(got.Flags), FlagLowConfidence)
}

func TestScoreCappedAt100(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := Input{
		InvoiceNumber: "INV-001",
		Amount:        decimal.NewFromInt(99999),
		InvoiceDate:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Confidence:    0.1,
		Project: &ProjectBudget{
			Name:            "Riverside",
			Budget:          decimal.NewFromInt(100),
			AlreadyInvoiced: decimal.NewFromInt(100),
		},
		PriorInvoices: []PriorInvoice{
			{InvoiceNumber: "INV-001", Amount: decimal.NewFromInt(99999), InvoiceDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
		},
	}

	got := scorer.Score(in)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
}

func TestLevelForScoreBoundaries(t *testing.T) {
	assert.Equal(t, LevelLow, LevelForScore(0))
	assert.Equal(t, LevelLow, LevelForScore(29))
	assert.Equal(t, LevelMedium, LevelForScore(30))
	assert.Equal(t, LevelMedium, LevelForScore(59))
	assert.Equal(t, LevelHigh, LevelForScore(60))
	assert.Equal(t, LevelHigh, LevelForScore(100))
}

func TestScoreDeterministic(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	in := baseInput()
	in.Confidence = 0.5
	in.PriorInvoices = in.PriorInvoices[:1]

	first := scorer.Score(in)
	second := scorer.Score(in)
	assert.Equal(t, first, second)
}
