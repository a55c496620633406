// Package domain contains payment run models and the settlement contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RunStatus is the payment run lifecycle.
type RunStatus string

const (
	RunStatusDraft     RunStatus = "DRAFT"
	RunStatusReady     RunStatus = "READY"
	RunStatusExported  RunStatus = "EXPORTED"
	RunStatusCompleted RunStatus = "COMPLETED"
)

// PaymentRun is a batch of approved invoices settled in one bank transfer
// cycle. TotalNetPayment is recomputed from members on every membership
// change, never cached across them.
type PaymentRun struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	Reference       string          `gorm:"type:text;not null;uniqueIndex"`
	Status          RunStatus       `gorm:"type:text;not null;default:'DRAFT'"`
	ScheduledDate   time.Time       `gorm:"not null"`
	TotalNetPayment decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	CompletedAt     *time.Time      `gorm:""`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentRun) TableName() string { return "payment_runs" }

// RollupRow is one subcontractor's slice of the monthly CIS return.
type RollupRow struct {
	SubcontractorID snowflake.ID    `json:"subcontractor_id"`
	Name            string          `json:"name"`
	UTR             string          `json:"utr"`
	InvoiceCount    int             `json:"invoice_count"`
	GrossTotal      decimal.Decimal `json:"gross_total"`
	DeductionTotal  decimal.Decimal `json:"deduction_total"`
	NetTotal        decimal.Decimal `json:"net_total"`
	MissingUTR      bool            `json:"missing_utr"`
}

// Rollup is the monthly tax-return aggregation. Subcontractors without a
// UTR stay in Rows and are additionally listed in MissingUTR so the return
// is blocked, not silently short.
type Rollup struct {
	Year       int         `json:"year"`
	Month      time.Month  `json:"month"`
	Rows       []RollupRow `json:"rows"`
	MissingUTR []string    `json:"missing_utr"`
}
