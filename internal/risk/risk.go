// Package risk scores incoming invoices for fraud and anomaly signals.
// Scoring is deterministic: the same input always yields the same
// assessment, and flags are emitted in rule order.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Flag types raised by the scorer.
const (
	FlagDuplicateInvoiceNumber = "DUPLICATE_INVOICE_NUMBER"
	FlagDuplicateAmount        = "DUPLICATE_AMOUNT"
	FlagPriceDeviation         = "PRICE_DEVIATION"
	FlagBudgetOverrun          = "BUDGET_OVERRUN"
	FlagNewPayee               = "NEW_PAYEE"
	FlagLowConfidence          = "LOW_EXTRACTION_CONFIDENCE"
)

// Flag is a structured anomaly signal with a recommended action.
type Flag struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Reason         string   `json:"reason"`
	Recommendation string   `json:"recommendation"`
}

// Assessment is the scored outcome for one invoice.
type Assessment struct {
	Score int    `json:"score"`
	Level Level  `json:"level"`
	Flags []Flag `json:"flags"`
}

// PriorInvoice is the slice of history the scorer needs per past invoice.
type PriorInvoice struct {
	InvoiceNumber string
	Amount        decimal.Decimal
	InvoiceDate   time.Time
}

// ProjectBudget carries the budget check inputs when a project is attached.
type ProjectBudget struct {
	Name            string
	Budget          decimal.Decimal
	AlreadyInvoiced decimal.Decimal
}

// Input is everything the scorer evaluates. The caller is responsible for
// reading PriorInvoices under the same transaction that persists the new
// invoice, so a concurrent duplicate cannot slip past the history read.
type Input struct {
	InvoiceNumber string
	Amount        decimal.Decimal
	InvoiceDate   time.Time
	Confidence    float64

	SubcontractorName string
	PriorInvoices     []PriorInvoice
	Project           *ProjectBudget
}

// Config carries the scoring thresholds.
type Config struct {
	// LowConfidenceThreshold flags extractions below this confidence.
	LowConfidenceThreshold float64
	// PriceDeviationMultiple flags amounts above this multiple of the
	// payee's trailing average.
	PriceDeviationMultiple float64
	// NewPayeeInvoiceCount flags payees with fewer prior invoices.
	NewPayeeInvoiceCount int
}

// DefaultConfig mirrors the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		LowConfidenceThreshold: 0.7,
		PriceDeviationMultiple: 2.0,
		NewPayeeInvoiceCount:   3,
	}
}

func severityWeight(s Severity) int {
	switch s {
	case SeverityHigh:
		return 40
	case SeverityMedium:
		return 25
	default:
		return 10
	}
}

// LevelForScore bands a 0-100 score. Boundaries classify into the
// higher-risk band: 30 is MEDIUM, 60 is HIGH.
func LevelForScore(score int) Level {
	switch {
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = 0.7
	}
	if cfg.PriceDeviationMultiple <= 0 {
		cfg.PriceDeviationMultiple = 2.0
	}
	if cfg.NewPayeeInvoiceCount <= 0 {
		cfg.NewPayeeInvoiceCount = 3
	}
	return &Scorer{cfg: cfg}
}

// Score evaluates every rule against the input and aggregates severities
// into a capped 0-100 score.
func (s *Scorer) Score(in Input) Assessment {
	var flags []Flag

	flags = append(flags, s.duplicateFlags(in)...)
	if flag := s.priceDeviationFlag(in); flag != nil {
		flags = append(flags, *flag)
	}
	if flag := s.budgetOverrunFlag(in); flag != nil {
		flags = append(flags, *flag)
	}
	if flag := s.newPayeeFlag(in); flag != nil {
		flags = append(flags, *flag)
	}
	if flag := s.lowConfidenceFlag(in); flag != nil {
		flags = append(flags, *flag)
	}

	score := 0
	for _, flag := range flags {
		score += severityWeight(flag.Severity)
	}
	if score > 100 {
		score = 100
	}

	return Assessment{
		Score: score,
		Level: LevelForScore(score),
		Flags: flags,
	}
}

func (s *Scorer) duplicateFlags(in Input) []Flag {
	var flags []Flag

	number := strings.ToUpper(strings.TrimSpace(in.InvoiceNumber))
	year, week := in.InvoiceDate.ISOWeek()

	numberSeen := false
	amountSeen := false
	for _, prior := range in.PriorInvoices {
		if !numberSeen && number != "" && strings.ToUpper(strings.TrimSpace(prior.InvoiceNumber)) == number {
			numberSeen = true
			flags = append(flags, Flag{
				Type:           FlagDuplicateInvoiceNumber,
				Severity:       SeverityHigh,
				Reason:         fmt.Sprintf("invoice number %s already exists for this subcontractor", in.InvoiceNumber),
				Recommendation: "Reject unless the earlier invoice was cancelled.",
			})
			continue
		}

		priorYear, priorWeek := prior.InvoiceDate.ISOWeek()
		if !amountSeen && priorYear == year && priorWeek == week && prior.Amount.Equal(in.Amount) {
			amountSeen = true
			flags = append(flags, Flag{
				Type:           FlagDuplicateAmount,
				Severity:       SeverityHigh,
				Reason:         fmt.Sprintf("an invoice for %s was already received this week", in.Amount.StringFixed(2)),
				Recommendation: "Confirm with the subcontractor this is not a resubmission.",
			})
		}
	}

	return flags
}

func (s *Scorer) priceDeviationFlag(in Input) *Flag {
	if len(in.PriorInvoices) < 3 {
		return nil
	}

	total := decimal.Zero
	for _, prior := range in.PriorInvoices {
		total = total.Add(prior.Amount)
	}
	average := total.Div(decimal.NewFromInt(int64(len(in.PriorInvoices))))
	if average.IsZero() {
		return nil
	}

	ceiling := average.Mul(decimal.NewFromFloat(s.cfg.PriceDeviationMultiple))
	if in.Amount.LessThanOrEqual(ceiling) {
		return nil
	}

	return &Flag{
		Type:     FlagPriceDeviation,
		Severity: SeverityMedium,
		Reason: fmt.Sprintf("amount %s exceeds %.1fx the trailing average of %s",
			in.Amount.StringFixed(2), s.cfg.PriceDeviationMultiple, average.StringFixed(2)),
		Recommendation: "Check the work performed justifies the jump.",
	}
}

func (s *Scorer) budgetOverrunFlag(in Input) *Flag {
	if in.Project == nil {
		return nil
	}

	projected := in.Project.AlreadyInvoiced.Add(in.Amount)
	if projected.LessThanOrEqual(in.Project.Budget) {
		return nil
	}

	return &Flag{
		Type:     FlagBudgetOverrun,
		Severity: SeverityHigh,
		Reason: fmt.Sprintf("project %s would be invoiced %s against a budget of %s",
			in.Project.Name, projected.StringFixed(2), in.Project.Budget.StringFixed(2)),
		Recommendation: "Hold until the project budget is revised.",
	}
}

func (s *Scorer) newPayeeFlag(in Input) *Flag {
	priors := len(in.PriorInvoices)
	if priors >= s.cfg.NewPayeeInvoiceCount {
		return nil
	}

	// An entirely unknown payee is riskier than a new-ish one.
	severity := SeverityLow
	if priors == 0 {
		severity = SeverityMedium
	}

	return &Flag{
		Type:     FlagNewPayee,
		Severity: severity,
		Reason: fmt.Sprintf("%s has only %d prior invoices on record",
			in.SubcontractorName, priors),
		Recommendation: "Verify bank details before first payment.",
	}
}

func (s *Scorer) lowConfidenceFlag(in Input) *Flag {
	if in.Confidence >= s.cfg.LowConfidenceThreshold {
		return nil
	}

	return &Flag{
		Type:     FlagLowConfidence,
		Severity: SeverityMedium,
		Reason: fmt.Sprintf("extraction confidence %.2f is below %.2f",
			in.Confidence, s.cfg.LowConfidenceThreshold),
		Recommendation: "Review the extracted fields against the document.",
	}
}
